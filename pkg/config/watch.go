package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/linkcore/pkg/log"
)

// Watcher reloads the configuration file at path whenever it changes
// on disk and delivers the newly parsed Document on Changes.
//
// Grounded on the teacher pack's fsnotify usage pattern (linkerd's
// credswatcher.FsCredsWatcher): one goroutine draining fsnotify's
// Events/Errors channels until ctx is cancelled.
type Watcher struct {
	path    string
	Changes chan Document
	Errors  chan error
}

// NewWatcher builds a Watcher for path; call Run to start it.
func NewWatcher(path string) *Watcher {
	return &Watcher{
		path:    path,
		Changes: make(chan Document, 1),
		Errors:  make(chan error, 1),
	}
}

// Run watches path for writes and re-parses the whole document on
// every change, forwarding successfully parsed documents on Changes
// and reload failures on Errors. It returns when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.path); err != nil {
		return err
	}

	logger := log.WithComponent("config-watcher")
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			doc, err := Load(w.path)
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
				select {
				case w.Errors <- err:
				default:
				}
				continue
			}
			select {
			case w.Changes <- doc:
			default:
				logger.Warn().Msg("config reload dropped, previous reload not yet consumed")
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
