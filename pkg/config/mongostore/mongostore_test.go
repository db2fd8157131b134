package mongostore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/devbackup/pkg/config/configstore"
)

type doc struct {
	ServiceName string `bson:"serviceName"`
	ArchiveDir  string `bson:"archiveDir"`
}

// Needs a reachable server, e.g. DEVBACKUP_TEST_MONGO_URI=mongodb://localhost:27017.
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("DEVBACKUP_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DEVBACKUP_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := New(ctx, uri, "devbackup_test", "config", t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.Collection.DeleteMany(ctx, map[string]any{"_id": t.Name()})
		_ = s.Close(ctx)
	})

	var out doc
	assert.ErrorContains(t, s.Load(ctx, &out), "not found")

	require.NoError(t, s.Save(ctx, doc{ServiceName: "a", ArchiveDir: "/x"}))
	require.NoError(t, s.Save(ctx, doc{ServiceName: "b", ArchiveDir: "/y"}))
	require.NoError(t, s.Load(ctx, &out))
	assert.Equal(t, doc{ServiceName: "b", ArchiveDir: "/y"}, out)

	assert.ErrorIs(t, s.Watch(ctx, func() {}), configstore.ErrWatchUnsupported)
}
