package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	ws, err := Acquire("abc123def456")
	require.NoError(t, err)

	info, err := os.Stat(ws.Path())
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.True(t, strings.Contains(filepath.Base(ws.Path()), "abc123def456"))

	// Put something inside so Release has a tree to delete.
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path(), "video.mp4"), []byte("x"), 0o644))

	ws.Release()
	_, err = os.Stat(ws.Path())
	require.True(t, os.IsNotExist(err))
}

func TestRelease_Idempotent(t *testing.T) {
	ws, err := Acquire("abc123def456")
	require.NoError(t, err)

	ws.Release()
	ws.Release() // must not panic or error

	_, err = os.Stat(ws.Path())
	require.True(t, os.IsNotExist(err))
}

func TestRelease_DirectoryAlreadyGone(t *testing.T) {
	ws, err := Acquire("abc123def456")
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(ws.Path()))
	ws.Release() // must be a no-op
}
