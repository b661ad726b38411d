// Package scanner walks a workspace and reports the files whose modification
// time moved past their recorded watermark.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
)

// Watermarks is the read side of the watermark map.
type Watermarks interface {
	Get(path string) (int64, bool)
}

// MapWatermarks adapts a plain map.
type MapWatermarks map[string]int64

func (m MapWatermarks) Get(path string) (int64, bool) {
	v, ok := m[path]
	return v, ok
}

type Options struct {
	Filter Filter
	// SkipUnchangedDirs stops descending into directories whose own
	// modification time did not move. Full scans ignore it.
	SkipUnchangedDirs bool
}

type Request struct {
	Root      string
	Workspace string
	// Extension is models.ExtensionAll or a single extension such as ".go".
	Extension string
	// FullDescent disables the directory short-circuit for this scan.
	FullDescent bool
}

type Result struct {
	Files []string
	// FileWatermarks holds the new watermark of every file in Files.
	FileWatermarks map[string]int64
	DirWatermarks  map[string]int64
	Skipped        int
}

type Scanner struct {
	opt    Options
	logger *slog.Logger
}

func New(opt Options, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{opt: opt, logger: logger}
}

// WithFilter returns a scanner using a different exclusion filter.
func (s *Scanner) WithFilter(f Filter) *Scanner {
	opt := s.opt
	opt.Filter = f
	return &Scanner{opt: opt, logger: s.logger}
}

// Scan visits req.Root and returns the changed files. Per-entry I/O errors
// are logged and skipped; only context cancellation aborts the walk.
func (s *Scanner) Scan(ctx context.Context, req Request, wm Watermarks) (Result, error) {
	res := Result{
		FileWatermarks: make(map[string]int64),
		DirWatermarks:  make(map[string]int64),
	}
	if wm == nil {
		wm = MapWatermarks(nil)
	}
	shortCircuit := s.opt.SkipUnchangedDirs && !req.FullDescent

	err := filepath.WalkDir(req.Root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Warn("scan entry failed", slog.String("path", path), slog.Any("error", err))
			if d != nil && d.IsDir() && path != req.Root {
				return filepath.SkipDir
			}
			return nil
		}
		isDir := d.IsDir()
		if s.opt.Filter.Excluded(req.Workspace, path, isDir) {
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !isDir && !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// vanished between readdir and stat
			s.logger.Warn("stat failed", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		mtime := info.ModTime().UnixNano()
		prev, seen := wm.Get(path)
		unchanged := seen && mtime <= prev

		if isDir {
			if unchanged {
				if shortCircuit {
					res.Skipped++
					return filepath.SkipDir
				}
				return nil
			}
			res.DirWatermarks[path] = mtime
			return nil
		}

		if unchanged {
			res.Skipped++
			return nil
		}
		if !matchesExtension(path, req.Extension) {
			return nil
		}
		res.Files = append(res.Files, path)
		res.FileWatermarks[path] = mtime
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return res, err
	}
	return res, nil
}

func matchesExtension(path, filter string) bool {
	ext := models.Ext(path)
	if _, ok := patterns.LanguageOf(ext); !ok {
		return false
	}
	return filter == "" || filter == models.ExtensionAll || filter == ext
}
