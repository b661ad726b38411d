package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0x5457/fn-index/internal/cache"
	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWriter(t *testing.T, interval time.Duration) (*Writer, *memory.Store, *cache.Set) {
	t.Helper()
	store := memory.New()
	bufs := cache.NewSet(100)
	w := New(store, bufs, Options{Interval: interval}, nil)
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w, store, bufs
}

func TestFlushPersistsAndClearsDelta(t *testing.T) {
	w, store, bufs := newWriter(t, time.Hour)
	ctx := context.Background()

	bufs.Functions.Set("/ws/a.py", []models.Function{{Name: "foo", Line: 1, RelativeFilePath: "a.py"}})
	bufs.Watermarks.Set("/ws/a.py", 10)
	bufs.LastAccess.Set("/ws/a.py", 5)

	require.NoError(t, w.Flush(ctx))
	assert.False(t, bufs.Dirty())

	fns, err := store.FunctionsInFile(ctx, "/ws/a.py")
	require.NoError(t, err)
	require.Len(t, fns, 1)
	wms, err := store.LoadWatermarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), wms["/ws/a.py"])

	// primary still serves reads after the flush
	_, ok := bufs.Functions.Get("/ws/a.py")
	assert.True(t, ok)
}

func TestFailedWriteKeepsDelta(t *testing.T) {
	w, store, bufs := newWriter(t, time.Hour)
	ctx := context.Background()

	store.SetFail(errors.New("disk full"))
	bufs.Functions.Set("/ws/a.py", []models.Function{{Name: "foo", Line: 1}})
	bufs.Watermarks.Set("/ws/a.py", 10)

	require.Error(t, w.Flush(ctx))
	assert.True(t, bufs.Functions.IsDirty())
	assert.True(t, bufs.Watermarks.IsDirty())

	store.SetFail(nil)
	require.NoError(t, w.Flush(ctx))
	assert.False(t, bufs.Dirty())
}

func TestPeriodicFlush(t *testing.T) {
	_, store, bufs := newWriter(t, 20*time.Millisecond)
	bufs.LastAccess.Set("/ws/a.py", 1)

	require.Eventually(t, func() bool { return !bufs.Dirty() }, time.Second, 10*time.Millisecond)
	assert.Positive(t, store.Writes())
}

func TestConcurrentFlushesAreSerialized(t *testing.T) {
	w, _, bufs := newWriter(t, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bufs.Watermarks.Set("/ws/f", int64(i))
			assert.NoError(t, w.Flush(ctx))
		}()
	}
	wg.Wait()
	require.NoError(t, w.Flush(ctx))
	assert.False(t, bufs.Dirty())
}

func TestClearResetsStoreAndBuffers(t *testing.T) {
	w, store, bufs := newWriter(t, time.Hour)
	ctx := context.Background()

	bufs.Watermarks.Set("/ws/a.py", 3)
	require.NoError(t, w.Flush(ctx))
	bufs.Functions.Set("/ws/b.py", nil)

	require.NoError(t, w.Clear(ctx))
	assert.False(t, bufs.Dirty())
	assert.Empty(t, bufs.Watermarks.Entries())
	wms, err := store.LoadWatermarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, wms)
}

func TestStopFlushesAndRejectsNewJobs(t *testing.T) {
	store := memory.New()
	bufs := cache.NewSet(10)
	w := New(store, bufs, Options{Interval: time.Hour}, nil)
	w.Start()

	bufs.Watermarks.Set("/ws/a.py", 4)
	require.NoError(t, w.Stop(context.Background()))
	assert.False(t, bufs.Dirty())
	assert.ErrorIs(t, w.Flush(context.Background()), ErrStopped)
}

func TestStopWithoutStart(t *testing.T) {
	bufs := cache.NewSet(10)
	w := New(memory.New(), bufs, Options{}, nil)
	bufs.LastAccess.Set("/ws/a.py", 1)
	require.NoError(t, w.Stop(context.Background()))
	assert.False(t, bufs.Dirty())
}
