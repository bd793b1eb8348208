package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Save(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	path, err := store.Save(context.Background(), "t1.mp3", strings.NewReader("audio-bytes"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))
	assert.Equal(t, store.Path("t1.mp3"), path)

	// No staging files left behind.
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t1.mp3", entries[0].Name())
}

func TestLocal_Save_Overwrite(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Save(ctx, "t1.mp3", strings.NewReader("first"))
	require.NoError(t, err)

	path, err := store.Save(ctx, "t1.mp3", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocal_Save_FailedReadLeavesNothing(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "t1.mp3", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "failed save must not commit or leave temp files")
}

func TestLocal_Save_CancelledContext(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Save(ctx, "t1.mp3", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocal_Path_StripsDirectories(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(store.Root(), "t1.mp3"), store.Path("t1.mp3"))
	// Path traversal in the name must not escape the root.
	assert.Equal(t, filepath.Join(store.Root(), "passwd"), store.Path("../../etc/passwd"))
}

func TestLocal_List(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Save(ctx, "a.mp3", strings.NewReader("aaa"))
	require.NoError(t, err)
	_, err = store.Save(ctx, "b.mp4", strings.NewReader("bb"))
	require.NoError(t, err)

	// Staged downloads and subdirectories are not listed.
	require.NoError(t, os.WriteFile(filepath.Join(root, ".download_123"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0750))

	files, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byName := make(map[string]int64, len(files))
	for _, f := range files {
		byName[f.Name] = f.Size
	}
	assert.Equal(t, int64(3), byName["a.mp3"])
	assert.Equal(t, int64(2), byName["b.mp4"])
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, assert.AnError
}
