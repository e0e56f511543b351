package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/myrison/counter-deck/internal/ipc"
	"github.com/myrison/counter-deck/internal/registry"
)

// Error dialog text shown for the notify command.
const (
	notifyTitle   = "Error"
	notifyMessage = "Pizza"
)

// Package-level hooks for testing.
var (
	writeFile = func(name string, data []byte) error { return os.WriteFile(name, data, 0644) }
	readFile  = os.ReadFile
)

// notify shows the error dialog off the loop, since native dialogs block
// until dismissed, and logs where ./LICENSE resolves to.
func (c *Coordinator) notify() {
	if c.dialog != nil {
		go func() {
			if err := c.dialog.ShowError(notifyTitle, notifyMessage); err != nil {
				c.logger.Warn().Err(err).Msg("failed to show error dialog")
			}
		}()
	}

	root, err := filepath.Abs("LICENSE")
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("LICENSE not found")
		return
	}
	c.logger.Info().Str("path", root).Msg("LICENSE")
}

// writeToFile writes the message, reads the file back and relays the
// contents. The I/O runs off the loop; the relay re-enters it, so other
// commands may run in between.
func (c *Coordinator) writeToFile(sender registry.Window, cmd ipc.WriteToFile) {
	path := c.resolve(cmd.FileName)
	log := c.logger.With().Str("file", path).Logger()

	c.relays.Add(1)
	go func() {
		defer c.relays.Done()

		if err := writeFile(path, []byte(cmd.Message)); err != nil {
			log.Error().Err(err).Msg("can't write to file")
		}

		data, err := readFile(path)
		if err != nil {
			log.Error().Err(err).Msg("can't read file back")
			return
		}

		err = c.post(context.Background(), func(context.Context) {
			c.relayContents(sender, string(data))
		})
		if err != nil {
			log.Warn().Err(err).Msg("dropping file relay")
		}
	}()
}

// relayContents sends the plain contents to the sender, then to every
// registered window suffixed with that window's id.
func (c *Coordinator) relayContents(sender registry.Window, contents string) {
	if sender != nil {
		if err := sender.Send(ipc.GetMessage{Contents: contents}); err != nil {
			c.logger.Warn().Err(err).Int("window", sender.ID()).Msg("failed to send message")
		}
	}
	c.registry.Each(func(w registry.Window) {
		msg := ipc.GetMessage{Contents: fmt.Sprintf("%s: %d", contents, w.ID())}
		if err := w.Send(msg); err != nil {
			c.logger.Warn().Err(err).Int("window", w.ID()).Msg("failed to send message")
		}
	})
	c.logger.Debug().Int("windows", c.registry.Len()).Msg("file contents relayed")
}

func (c *Coordinator) resolve(name string) string {
	if filepath.IsAbs(name) || c.relayDir == "" {
		return name
	}
	return filepath.Join(c.relayDir, name)
}
