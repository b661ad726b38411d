// Package workspace derives the per-workspace store location and guards it
// against concurrent writers from other processes.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/0x5457/fn-index/internal/storage"
	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"
)

const (
	storeFile = "index.db"
	lockFile  = "index.lock"
)

// Key is a stable identifier for a workspace root.
func Key(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return strconv.FormatUint(xxhash.Sum64String(filepath.Clean(abs)), 16)
}

// Dir is the directory holding the store of the given workspace.
func Dir(dataDir, root string) string {
	return filepath.Join(dataDir, Key(root))
}

func StorePath(dataDir, root string) string {
	return filepath.Join(Dir(dataDir, root), storeFile)
}

// DefaultDataDir is the user cache directory, or the temp dir when the
// platform has none.
func DefaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "fn-index")
	}
	return filepath.Join(os.TempDir(), "fn-index")
}

// Lock is an exclusive, cross-process lock on a workspace store.
type Lock struct {
	flock *flock.Flock
}

// Acquire takes the lock without blocking. storage.ErrLocked is returned
// when another process holds it.
func Acquire(dataDir, root string) (*Lock, error) {
	dir := Dir(dataDir, root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	fl := flock.New(filepath.Join(dir, lockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrLocked, dir)
	}
	return &Lock{flock: fl}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	return l.flock.Unlock()
}
