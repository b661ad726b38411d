package search

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/0x5457/fn-index/internal/models"
)

// Range is the half-open span [Start, End) a file occupies in a List.
type Range struct {
	Start int
	End   int
}

type entry struct {
	hit   models.SearchHit
	lower string
}

// List is the flattened, searchable view of the function index. Each file's
// functions are kept contiguous and the recorded ranges always partition the
// list without gaps.
type List struct {
	mu        sync.RWMutex
	entries   []entry
	ranges    map[string]Range
	activeExt string
}

func NewList() *List {
	return &List{ranges: make(map[string]Range)}
}

// Rebuild replaces the list with the contents of index, files in path order.
func (l *List) Rebuild(index map[string][]models.Function) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
	clear(l.ranges)
	for _, file := range slices.Sorted(maps.Keys(index)) {
		l.appendLocked(file, index[file])
	}
}

// Update replaces the functions of file: its old range is spliced out, the
// ranges behind it shift down and the new entries go to the end.
func (l *List) Update(file string, fns []models.Function) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(file)
	l.appendLocked(file, fns)
}

func (l *List) Remove(file string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(file)
}

func (l *List) removeLocked(file string) {
	r, ok := l.ranges[file]
	if !ok {
		return
	}
	delete(l.ranges, file)
	width := r.End - r.Start
	l.entries = slices.Delete(l.entries, r.Start, r.End)
	for f, other := range l.ranges {
		if other.Start >= r.End {
			l.ranges[f] = Range{Start: other.Start - width, End: other.End - width}
		}
	}
}

func (l *List) appendLocked(file string, fns []models.Function) {
	if len(fns) == 0 {
		return
	}
	ext := models.Ext(file)
	start := len(l.entries)
	for _, fn := range fns {
		l.entries = append(l.entries, entry{
			hit: models.SearchHit{
				Name:             fn.Name,
				File:             file,
				RelativeFilePath: fn.RelativeFilePath,
				Line:             fn.Line,
				Extension:        ext,
			},
			lower: strings.ToLower(fn.Name),
		})
	}
	l.ranges[file] = Range{Start: start, End: len(l.entries)}
}

func (l *List) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	clear(l.ranges)
}

// SetActiveExtension sets the extension ranked ahead of all others.
func (l *List) SetActiveExtension(ext string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeExt = strings.ToLower(ext)
}

func (l *List) ActiveExtension() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeExt
}

// Filter returns up to limit hits whose names contain query as a
// subsequence. Hits with the active extension come first; list order is kept
// otherwise. A limit of zero or less means no cap.
func (l *List) Filter(query string, limit int) []models.SearchHit {
	q := strings.ToLower(query)
	l.mu.RLock()
	defer l.mu.RUnlock()

	var same, other []models.SearchHit
	for _, e := range l.entries {
		if !isSubsequenceLower(q, e.lower) {
			continue
		}
		if l.activeExt != "" && e.hit.Extension == l.activeExt {
			same = append(same, e.hit)
		} else {
			other = append(other, e.hit)
		}
	}
	out := append(same, other...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Ranges returns a copy of the per-file ranges.
func (l *List) Ranges() map[string]Range {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.ranges)
}

func (l *List) Contains(file string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ranges[file]
	return ok
}

// Files counts the files with at least one entry.
func (l *List) Files() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ranges)
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
