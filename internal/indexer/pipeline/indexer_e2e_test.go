package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5457/fn-index/internal/cache"
	"github.com/0x5457/fn-index/internal/indexer/pipeline"
	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
	"github.com/0x5457/fn-index/internal/scanner"
	"github.com/0x5457/fn-index/internal/search"
	"github.com/0x5457/fn-index/internal/storage"
	"github.com/0x5457/fn-index/internal/storage/sqlite"
	"github.com/0x5457/fn-index/internal/storage/writer"
	"github.com/0x5457/fn-index/internal/worker"
)

type fixture struct {
	ws    string
	a, b  string
	store *sqlite.Store
	dbDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws := t.TempDir()
	f := &fixture{
		ws:    ws,
		a:     filepath.Join(ws, "a.py"),
		b:     filepath.Join(ws, "b.go"),
		dbDir: t.TempDir(),
	}
	require.NoError(t, os.WriteFile(f.a, []byte("def foo():\n    pass\n"), 0o644))
	require.NoError(t, os.WriteFile(f.b, []byte("func Bar() {\n}\n"), 0o644))
	f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(f.dbDir, "index.db"), sqlite.Options{})
	require.NoError(t, err)
	f.store = store
	t.Cleanup(func() { _ = store.Close() })
}

func newIndexer(t *testing.T, ws string, store storage.Store) *pipeline.Indexer {
	t.Helper()
	bufs := cache.NewSet(1000)
	w := writer.New(store, bufs, writer.Options{Interval: time.Hour}, nil)
	svc := search.NewService(search.NewList(), bufs.Functions, store, search.Options{}, nil)
	pool := worker.NewPool(worker.Options{Debounce: 10 * time.Millisecond},
		patterns.Default(), scanner.NewFilter(scanner.DefaultExclusions, nil), nil)
	idx := pipeline.New(store, bufs, w, svc, pool, pipeline.Options{
		Workspace:          ws,
		ActiveFileDebounce: 10 * time.Millisecond,
	}, nil)
	return idx
}

func startIndexer(t *testing.T, f *fixture) *pipeline.Indexer {
	t.Helper()
	idx := newIndexer(t, f.ws, f.store)
	ctx := context.Background()
	require.NoError(t, idx.Start(ctx))
	t.Cleanup(func() { _ = idx.Stop(context.Background()) })
	waitIdle(t, idx)
	return idx
}

func waitIdle(t *testing.T, idx *pipeline.Indexer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, idx.WaitIdle(ctx))
}

func hitNames(hits []models.SearchHit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Name)
	}
	return out
}

func Test_Indexer_E2E(t *testing.T) {
	f := newFixture(t)
	idx := startIndexer(t, f)
	ctx := context.Background()

	assert.Equal(t, map[string][]models.Function{
		f.a: {{Name: "foo", Line: 1, RelativeFilePath: "a.py"}},
		f.b: {{Name: "Bar", Line: 1, RelativeFilePath: "b.go"}},
	}, idx.Index())

	idx.SetActiveFile(f.a)
	require.Eventually(t, func() bool {
		hits, err := idx.Search(ctx, "")
		return err == nil && len(hits) == 2 && hits[0].Name == "foo"
	}, 5*time.Second, 10*time.Millisecond)

	hits, err := idx.Search(ctx, "fo")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, hitNames(hits))

	idx.SetActiveFile(f.b)
	require.Eventually(t, func() bool {
		hits, err := idx.Search(ctx, "")
		return err == nil && len(hits) == 2 && hits[0].Name == "Bar"
	}, 5*time.Second, 10*time.Millisecond)

	st := idx.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 2, st.Functions)

	require.NoError(t, idx.Flush(ctx))
	fns, err := f.store.FunctionsInFile(ctx, f.b)
	require.NoError(t, err)
	assert.Equal(t, []models.Function{{Name: "Bar", Line: 1, RelativeFilePath: "b.go"}}, fns)
	wms, err := f.store.LoadWatermarks(ctx)
	require.NoError(t, err)
	assert.Contains(t, wms, f.a)
	assert.Contains(t, wms, f.ws)
}

func TestFileChangeIsReindexed(t *testing.T) {
	f := newFixture(t)
	idx := startIndexer(t, f)

	require.NoError(t, os.WriteFile(f.a, []byte("def foo():\n    pass\ndef baz():\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(f.a, future, future))
	idx.HandleEvent(models.FileEvent{Path: f.a, Kind: models.EventChange})

	require.Eventually(t, func() bool { return len(idx.Index()[f.a]) == 2 }, 5*time.Second, 10*time.Millisecond)
	hits, err := idx.Search(context.Background(), "bz")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.py:3", hits[0].Description())
}

func TestDeleteClearsFunctions(t *testing.T) {
	f := newFixture(t)
	c := filepath.Join(f.ws, "c.rs")
	require.NoError(t, os.WriteFile(c, []byte("fn qux() {}\n"), 0o644))
	idx := startIndexer(t, f)
	require.Len(t, idx.Index(), 3)

	require.NoError(t, os.Remove(f.b))
	idx.HandleEvent(models.FileEvent{Path: f.b, Kind: models.EventDelete})

	index := idx.Index()
	assert.NotContains(t, index, f.b)
	assert.Contains(t, index, f.a)
	assert.Contains(t, index, c)

	hits, err := idx.Search(context.Background(), "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "qux"}, hitNames(hits))

	require.NoError(t, idx.Flush(context.Background()))
	fns, err := f.store.FunctionsInFile(context.Background(), f.b)
	require.NoError(t, err)
	assert.Empty(t, fns)
	files, err := f.store.FilesContaining(context.Background(), "Bar")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRestartHydratesRecentFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := newIndexer(t, f.ws, f.store)
	require.NoError(t, first.Start(ctx))
	waitIdle(t, first)
	first.MarkAccessed(f.a)
	require.NoError(t, first.Stop(ctx))

	second := newIndexer(t, f.ws, f.store)
	require.NoError(t, second.Start(ctx))
	t.Cleanup(func() { _ = second.Stop(context.Background()) })

	// ready from hydration alone, before any scan result
	hits, err := second.Search(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, hitNames(hits))

	// b.go was never accessed and comes back through the cold store
	hits, err = second.Search(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, hitNames(hits))
}

func TestClearAllReindexes(t *testing.T) {
	f := newFixture(t)
	idx := startIndexer(t, f)
	ctx := context.Background()
	require.NoError(t, idx.Flush(ctx))

	require.NoError(t, idx.ClearAll(ctx))
	waitIdle(t, idx)

	assert.Len(t, idx.Index(), 2)
	hits, err := idx.Search(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, hitNames(hits))
}

func TestSearchBeforeFirstScan(t *testing.T) {
	f := newFixture(t)
	idx := newIndexer(t, f.ws, f.store)
	defer func() { _ = idx.Stop(context.Background()) }()

	_, err := idx.Search(context.Background(), "foo")
	assert.ErrorIs(t, err, search.ErrStillIndexing)
	assert.False(t, idx.Status().Ready)
}

func TestActiveFileDoesNotNarrowDirectoryScan(t *testing.T) {
	f := newFixture(t)
	idx := startIndexer(t, f)

	pkg := filepath.Join(f.ws, "pkg")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	x := filepath.Join(pkg, "x.py")
	y := filepath.Join(pkg, "y.go")
	require.NoError(t, os.WriteFile(x, []byte("def ex():\n    pass\n"), 0o644))
	require.NoError(t, os.WriteFile(y, []byte("func Why() {\n}\n"), 0o644))

	idx.HandleEvent(models.FileEvent{Path: pkg, Kind: models.EventCreate})
	idx.SetActiveFile(x)

	require.Eventually(t, func() bool {
		index := idx.Index()
		return len(index[x]) == 1 && len(index[y]) == 1
	}, 5*time.Second, 10*time.Millisecond)
	waitIdle(t, idx)
	assert.Equal(t, []models.Function{{Name: "Why", Line: 1, RelativeFilePath: "pkg/y.go"}}, idx.Index()[y])
}
