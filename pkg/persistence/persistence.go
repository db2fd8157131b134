// Package persistence mirrors written device results to local JSON files.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrej220/devbackup/pkg/models"
)

const indent = "    "

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter replaces files through a temp file and a rename, so readers
// never see a partial result.
type FileWriter struct {
	Perm os.FileMode
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	perm := w.Perm
	if perm == 0 {
		perm = 0o640
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

// Archive stores the last written result of every device under
// <dir>/<task>/<node>.json.
type Archive struct {
	dir        string
	serializer Serializer
	writer     Writer
}

func NewArchive(dir string) *Archive {
	return &Archive{
		dir:        dir,
		serializer: JSONSerializer{Indent: indent},
		writer:     FileWriter{},
	}
}

// Path returns where the result of node in task is kept.
func (a *Archive) Path(task, node string) string {
	return filepath.Join(a.dir, safeName(task), safeName(node)+".json")
}

func (a *Archive) Save(r models.WorkerResult) (string, error) {
	if r.TaskName == "" || r.NodeID == "" {
		return "", fmt.Errorf("%w: archive needs task name and node id", models.ErrValidation)
	}
	data, err := a.serializer.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	path := a.Path(r.TaskName, r.NodeID)
	if err := a.writer.Write(path, data); err != nil {
		return "", fmt.Errorf("failed to write result %s: %w", path, err)
	}
	return path, nil
}

// Load reads back an archived result.
func (a *Archive) Load(task, node string) (models.WorkerResult, error) {
	var r models.WorkerResult
	data, err := os.ReadFile(a.Path(task, node))
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("%w: archived result: %v", models.ErrParse, err)
	}
	return r, nil
}

// safeName keeps a path element inside the archive directory.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." {
		return "_"
	}
	return s
}
