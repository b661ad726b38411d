package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/storage"
)

type fileRow struct {
	watermark  int64
	lastAccess int64
	accessed   bool
	functions  []models.Function
	hasBlob    bool
}

// Store is an in-memory storage.Store with the same merge semantics as the
// SQLite store.
type Store struct {
	mu    sync.RWMutex
	files map[string]*fileRow
	// fail, when set, is returned by every write
	fail   error
	writes int
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{files: make(map[string]*fileRow)}
}

func (s *Store) row(path string) *fileRow {
	r, ok := s.files[path]
	if !ok {
		r = &fileRow{}
		s.files[path] = r
	}
	return r
}

func (s *Store) UpsertFunctions(_ context.Context, entries map[string][]models.Function) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.writes++
	for path, fns := range entries {
		r := s.row(path)
		r.functions = slices.Clone(fns)
		r.hasBlob = true
	}
	return nil
}

func (s *Store) UpsertLastAccess(_ context.Context, entries map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.writes++
	for path, ts := range entries {
		r := s.row(path)
		r.lastAccess = max(r.lastAccess, ts)
		r.accessed = true
	}
	return nil
}

func (s *Store) UpsertWatermarks(_ context.Context, entries map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.writes++
	for path, ts := range entries {
		r := s.row(path)
		r.watermark = max(r.watermark, ts)
	}
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]*fileRow)
	return nil
}

func (s *Store) LoadWatermarks(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	for path, r := range s.files {
		if r.watermark > 0 {
			out[path] = r.watermark
		}
	}
	return out, nil
}

func (s *Store) LoadRecent(_ context.Context, since int64) ([]models.FileFunctions, error) {
	return s.collect(func(r *fileRow) bool { return r.accessed && r.lastAccess >= since }, "", 0), nil
}

func (s *Store) ColdFiles(_ context.Context, since int64, after string, limit int) ([]models.FileFunctions, error) {
	return s.collect(func(r *fileRow) bool { return !r.accessed || r.lastAccess < since }, after, limit), nil
}

func (s *Store) collect(keep func(*fileRow) bool, after string, limit int) []models.FileFunctions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.files))
	for path, r := range s.files {
		if r.hasBlob && path > after && keep(r) {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	out := make([]models.FileFunctions, 0, len(paths))
	for _, path := range paths {
		out = append(out, models.FileFunctions{Path: path, Functions: slices.Clone(s.files[path].functions)})
	}
	return out
}

func (s *Store) FilesContaining(_ context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for path, r := range s.files {
		if slices.ContainsFunc(r.functions, func(fn models.Function) bool { return fn.Name == name }) {
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) FunctionsInFile(_ context.Context, path string) ([]models.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.files[path]; ok {
		return slices.Clone(r.functions), nil
	}
	return nil, nil
}

// Writes counts successful write calls.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) SetFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Store) Close() error { return nil }
