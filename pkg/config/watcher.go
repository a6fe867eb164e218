package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/videochat/groupcall/pkg/logger"
)

// Watcher calls back each time the config file is changed.
type Watcher struct {
	fs       *fsnotify.Watcher
	file     string
	onChange func(Config)
	log      *logger.Logger
	done     chan struct{}
}

// NewWatcher watches the directory of the file since
// editors tend to replace files instead of writing them in place.
func NewWatcher(file string, onChange func(Config), log *logger.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	if err = fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return &Watcher{
		fs:       fs,
		file:     abs,
		onChange: onChange,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

func (w *Watcher) Run() { go w.watch() }

func (w *Watcher) watch() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.file || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			var conf Config
			if _, err := LoadConfig(&conf, w.file); err != nil {
				w.log.Warn().Err(err).Msg("config reload failed")
				continue
			}
			w.log.Info().Str("file", w.file).Msg("config reloaded")
			w.onChange(conf)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("config watcher")
		}
	}
}

func (w *Watcher) Shutdown(ctx context.Context) error {
	err := w.fs.Close()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (w *Watcher) String() string { return "config watcher" }
