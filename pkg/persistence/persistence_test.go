package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/devbackup/pkg/models"
)

func TestArchiveSaveLoad(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir)
	r := models.WorkerResult{Put: "file", TaskName: "backup", NodeID: "17", Hash: "ABC", Data: map[string]string{"config": "hostname sw1"}}

	path, err := a.Save(r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backup", "17.json"), path)

	got, err := a.Load("backup", "17")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	// overwritten in place, no temp file left behind
	r.Hash = "DEF"
	_, err = a.Save(r)
	require.NoError(t, err)
	got, err = a.Load("backup", "17")
	require.NoError(t, err)
	assert.Equal(t, "DEF", got.Hash)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestArchivePathStaysInside(t *testing.T) {
	a := NewArchive("/srv/archive")
	assert.Equal(t, "/srv/archive/_/.._etc_passwd.json", a.Path("..", "../etc/passwd"))
}

func TestArchiveRequiresCoordinates(t *testing.T) {
	_, err := NewArchive(t.TempDir()).Save(models.WorkerResult{TaskName: "backup"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestFileWriterRejectsEmptyName(t *testing.T) {
	assert.ErrorIs(t, FileWriter{}.Write("", nil), os.ErrInvalid)
}
