package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/core/testutil"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/storage"
)

func TestStartStop(t *testing.T) {
	db := testutil.TestMustDB(t)
	service := NewService(db, filepath.Join(t.TempDir(), "backups"), logger.NewNoOpLogger())

	assert.Error(t, service.Start(0))

	require.NoError(t, service.Start(time.Hour))
	assert.True(t, service.Running())
	assert.DirExists(t, service.Dir())

	assert.ErrorIs(t, service.Start(time.Hour), ErrAlreadyRunning)

	service.Stop()
	assert.False(t, service.Running())

	// no-op once stopped
	service.Stop()
	require.NoError(t, service.Start(time.Hour))
	service.Stop()
}

func TestSnapshotRestore(t *testing.T) {
	db := testutil.TestMustDB(t)
	require.NoError(t, db.Set([]byte("uo:1:a"), []byte("op")))

	service := NewService(db, t.TempDir(), testutil.GetLogger())
	file, err := service.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshotFile, filepath.Base(file))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	restored, err := storage.NewInMemory()
	require.NoError(t, err)
	defer restored.Close()

	require.NoError(t, NewService(restored, service.Dir(), nil).Restore(context.Background(), file))
	v, err := restored.GetKey([]byte("uo:1:a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("op"), v)
}

func TestRestoreMissingFile(t *testing.T) {
	service := NewService(testutil.TestMustDB(t), t.TempDir(), nil)
	err := service.Restore(context.Background(), filepath.Join(t.TempDir(), "nope.bak"))
	assert.ErrorContains(t, err, "cannot open backup")
}
