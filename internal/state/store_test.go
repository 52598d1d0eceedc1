package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesDirectory(t *testing.T) {
	s := openTestStore(t)

	_, err := os.Stat(s.Path())
	assert.NoError(t, err)
}

func TestStore_SaveListDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	require.NoError(t, s.Save(ctx, EventInstance{DeviceID: "dev-2", Event: "e", InstanceID: "b", EnabledAt: base.Add(time.Second)}))
	require.NoError(t, s.Save(ctx, EventInstance{DeviceID: "dev-1", Event: "e", InstanceID: "a", EnabledAt: base}))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].InstanceID)
	assert.True(t, base.Equal(got[0].EnabledAt))
	assert.Equal(t, "dev-2", got[1].DeviceID)

	require.NoError(t, s.Delete(ctx, "dev-1", "a"))
	require.NoError(t, s.Delete(ctx, "dev-1", "unknown"))

	got, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].InstanceID)
}

func TestStore_SaveReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, EventInstance{DeviceID: "dev", Event: "old", InstanceID: "1"}))
	require.NoError(t, s.Save(ctx, EventInstance{DeviceID: "dev", Event: "new", InstanceID: "1"}))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Event)
	assert.False(t, got[0].EnabledAt.IsZero())
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, EventInstance{DeviceID: "dev", Event: "e", InstanceID: "1"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
