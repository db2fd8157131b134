// Package filestore keeps configuration in a YAML file.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/pkg/config/configstore"
	"github.com/andrej220/devbackup/pkg/persistence"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

// FileStore reads and writes one YAML file. Saves go through a temp file and
// a rename with owner-only permissions.
type FileStore struct {
	Path   string
	writer persistence.Writer
}

func New(path string) *FileStore {
	return &FileStore{Path: path, writer: persistence.FileWriter{Perm: 0o600}}
}

func (f *FileStore) Load(_ context.Context, out any) error {
	if out == nil {
		return errors.New("load: output must not be nil")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("load %s: %w", f.Path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("load %s: file is empty", f.Path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("load %s: parse yaml: %w", f.Path, err)
	}
	return nil
}

func (f *FileStore) Save(_ context.Context, in any) error {
	if in == nil {
		return errors.New("save: input must not be nil")
	}
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("save: marshal yaml: %w", err)
	}
	if err := f.writer.Write(f.Path, data); err != nil {
		return fmt.Errorf("save %s: %w", f.Path, err)
	}
	return nil
}

// Watch calls onChange after the file was written or replaced, until ctx is
// done. The parent directory is watched so a rename-based save is seen too.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return errors.New("watch: onChange must not be nil")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", f.Path, err)
	}

	log := lg.FromContext(ctx).With(lg.String("path", f.Path))
	target := filepath.Clean(f.Path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Debug("config file changed", lg.String("op", ev.Op.String()))
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", lg.Err(err))
			}
		}
	}()
	return nil
}
