package workspace

import (
	"path/filepath"
	"testing"

	"github.com/0x5457/fn-index/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStable(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, Key(root), Key(root+string(filepath.Separator)))
	assert.Equal(t, Key(root), Key(filepath.Join(root, "sub", "..")))
	assert.NotEqual(t, Key(root), Key(filepath.Join(root, "other")))
}

func TestStorePathIsPerWorkspace(t *testing.T) {
	data := t.TempDir()
	a := StorePath(data, "/ws/a")
	b := StorePath(data, "/ws/b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "index.db", filepath.Base(a))
	assert.Equal(t, data, filepath.Dir(filepath.Dir(a)))
}

func TestLockIsExclusive(t *testing.T) {
	data := t.TempDir()
	root := t.TempDir()

	first, err := Acquire(data, root)
	require.NoError(t, err)

	_, err = Acquire(data, root)
	require.ErrorIs(t, err, storage.ErrLocked)

	require.NoError(t, first.Release())
	again, err := Acquire(data, root)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}
