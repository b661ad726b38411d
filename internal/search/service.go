package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/0x5457/fn-index/internal/cache"
	"github.com/0x5457/fn-index/internal/models"
)

var ErrStillIndexing = errors.New("still indexing, try again in a moment")

const (
	DefaultWindow     = 14 * 24 * time.Hour
	DefaultPageSize   = 200
	DefaultMaxResults = 100
)

// ColdStore pages through persisted files not accessed since a cutoff.
type ColdStore interface {
	ColdFiles(ctx context.Context, since int64, after string, limit int) ([]models.FileFunctions, error)
}

type Options struct {
	// Window is how far back an access keeps a file in memory.
	Window     time.Duration
	PageSize   int
	MaxResults int
}

// Service answers function name queries from the in-memory list and falls
// back to files that only live in the store.
type Service struct {
	list      *List
	functions *cache.DualBuffer[string, []models.Function]
	cold      ColdStore
	opt       Options
	logger    *slog.Logger
	now       func() time.Time

	ready atomic.Bool
}

func NewService(
	list *List,
	functions *cache.DualBuffer[string, []models.Function],
	cold ColdStore,
	opt Options,
	logger *slog.Logger,
) *Service {
	if opt.Window <= 0 {
		opt.Window = DefaultWindow
	}
	if opt.PageSize <= 0 {
		opt.PageSize = DefaultPageSize
	}
	if opt.MaxResults <= 0 {
		opt.MaxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		list:      list,
		functions: functions,
		cold:      cold,
		opt:       opt,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) SetReady(ready bool) { s.ready.Store(ready) }

func (s *Service) Ready() bool { return s.ready.Load() }

func (s *Service) List() *List { return s.list }

// Search returns ranked hits for query, capped at MaxResults.
func (s *Service) Search(ctx context.Context, query string) ([]models.SearchHit, error) {
	if !s.Ready() {
		return nil, ErrStillIndexing
	}
	query = strings.TrimSpace(query)
	hits := s.list.Filter(query, s.opt.MaxResults)
	if len(hits) > 0 || query == "" || s.cold == nil {
		return hits, nil
	}
	found, err := s.searchCold(ctx, strings.ToLower(query))
	if err != nil {
		return nil, err
	}
	if found == 0 {
		return nil, nil
	}
	return s.list.Filter(query, s.opt.MaxResults), nil
}

// searchCold pages through cold files until a page yields a match, merging
// the matching files into the cache and the list. It returns the number of
// files merged.
func (s *Service) searchCold(ctx context.Context, q string) (int, error) {
	since := s.now().Add(-s.opt.Window).UnixMilli()
	after := ""
	for {
		page, err := s.cold.ColdFiles(ctx, since, after, s.opt.PageSize)
		if err != nil {
			return 0, fmt.Errorf("cold search: %w", err)
		}
		merged := 0
		for _, ff := range page {
			if s.list.Contains(ff.Path) {
				// the in-memory copy is newer and already failed to match
				continue
			}
			if !anyMatch(q, ff.Functions) {
				continue
			}
			s.functions.Seed(ff.Path, ff.Functions)
			s.list.Update(ff.Path, ff.Functions)
			merged++
		}
		if merged > 0 {
			s.logger.Debug("cold search merged files", slog.Int("files", merged))
			return merged, nil
		}
		if len(page) < s.opt.PageSize {
			return 0, nil
		}
		after = page[len(page)-1].Path
	}
}

func anyMatch(q string, fns []models.Function) bool {
	for _, fn := range fns {
		if isSubsequenceLower(q, strings.ToLower(fn.Name)) {
			return true
		}
	}
	return false
}
