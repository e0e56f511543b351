package main

import (
	"context"
	"embed"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"github.com/myrison/counter-deck/internal/config"
	"github.com/myrison/counter-deck/internal/coordinator"
	"github.com/myrison/counter-deck/internal/desktop"
	"github.com/myrison/counter-deck/internal/hub"
	"github.com/myrison/counter-deck/internal/logging"
	"github.com/myrison/counter-deck/internal/store"
)

//go:embed all:frontend/dist
var assets embed.FS

const appTitle = "counter-deck"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := config.DefaultPath()
	cfg, cfgErr := config.Load(cfgPath)

	// Detect development mode
	isDev := os.Getenv("WAILS_DEV") != "" || desktop.Version == "0.1.0-dev"
	level := cfg.Logging.Level
	if isDev && os.Getenv(config.EnvLogLevel) == "" {
		level = "debug"
	}

	info, isWindow, launchErr := hub.LaunchInfoFromEnv(os.Getenv)
	role := "host"
	if isWindow {
		role = "window"
	}

	opts := logging.Options{Level: level, Console: isDev, Role: role}
	// Spawned windows share the host's terminal; only the host owns the debug file.
	if !isWindow {
		if f, err := logging.OpenDebugFile(); err == nil {
			defer f.Close()
			opts.DebugFile = f
		}
	}
	log := logging.New(opts)
	if cfgErr != nil {
		log.Warn().Err(cfgErr).Msg("failed to read config, using defaults")
	}
	if !isWindow {
		if created, err := config.EnsureFile(cfgPath); err != nil {
			log.Warn().Err(err).Str("path", cfgPath).Msg("failed to write default config")
		} else if created {
			log.Info().Str("path", cfgPath).Msg("wrote default config")
		}
	}
	if launchErr != nil {
		return launchErr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var app *desktop.App
	if isWindow {
		client, err := hub.Dial(ctx, info, log)
		if err != nil {
			return err
		}
		app = desktop.NewWindowApp(client, log)
	} else {
		var err error
		app, err = startHost(ctx, cfg, log)
		if err != nil {
			return err
		}
	}

	return wails.Run(&options.App{
		Title:  appTitle,
		Width:  desktop.WindowWidth,
		Height: desktop.WindowHeight,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		// The primary window waits for DOM ready before showing.
		StartHidden:   app.IsHost(),
		OnStartup:     app.Startup,
		OnDomReady:    app.DomReady,
		OnBeforeClose: app.BeforeClose,
		OnShutdown:    app.Shutdown,
		Bind: []interface{}{
			app,
		},
		Logger:             logging.NewWailsLogger(log),
		LogLevel:           logging.WailsLevel(level),
		LogLevelProduction: logger.ERROR,
		// Enable DevTools in development mode
		Debug: options.Debug{
			OpenInspectorOnStartup: isDev,
		},
	})
}

// startHost opens the store, starts the hub and the coordinator loop, and
// returns the app for the primary window. Everything stops when ctx is done.
func startHost(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*desktop.App, error) {
	backend := store.NewFileBackend(cfg.Store.Path)
	st := store.New(backend, store.DefaultSchema, log)

	counter, err := st.Get(store.CounterKey)
	if err != nil {
		log.Warn().Err(err).Str("path", backend.Path()).Msg("stored counter unreadable")
	} else {
		log.Info().Int("counter", counter).Str("path", backend.Path()).Msg("store opened")
	}

	srv := hub.NewServer(hub.Options{ListenAddr: cfg.Host.ListenAddr, Logger: log})

	dialog := desktop.NewWailsDialog()
	var app *desktop.App
	coord := coordinator.New(coordinator.Options{
		Store:    st,
		Spawner:  srv,
		Dialog:   dialog,
		RelayDir: cfg.Host.RelayDir,
		// Quit may re-enter the coordinator through BeforeClose, so it must
		// not run on the loop.
		OnAllClosed: func() {
			go app.Quit()
		},
		Logger: log,
	})
	app = desktop.NewHostApp(coord, dialog, log, os.Getenv("START_MINIMIZED") != "")

	go func() {
		if err := coord.Run(ctx); err != nil {
			log.Debug().Err(err).Msg("coordinator stopped")
		}
	}()

	if err := srv.Start(ctx, coord); err != nil {
		return nil, err
	}

	if cfg.Store.Watch {
		err := store.WatchFile(ctx, backend.Path(), log, coord.ReloadStore)
		if err != nil {
			log.Warn().Err(err).Msg("store watch disabled")
		}
	}
	return app, nil
}
