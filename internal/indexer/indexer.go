// Package indexer defines the function index service used by the command
// and MCP layers.
package indexer

import (
	"context"

	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
	"github.com/0x5457/fn-index/internal/scanner"
)

type Indexer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	HandleEvent(ev models.FileEvent)
	SetActiveFile(path string)
	MarkAccessed(path string)

	// Search returns search.ErrStillIndexing until the first full scan
	// has completed.
	Search(ctx context.Context, query string) ([]models.SearchHit, error)

	Reindex(ctx context.Context) error
	ClearAll(ctx context.Context) error
	Flush(ctx context.Context) error
	UpdatePatterns(ctx context.Context, reg *patterns.Registry) error
	UpdateExclusions(ctx context.Context, filter scanner.Filter) error

	Status() models.Status
	// WaitIdle blocks until the index is ready and no work is outstanding.
	WaitIdle(ctx context.Context) error
	// Index returns a snapshot of the in-memory function index.
	Index() map[string][]models.Function
}
