package worker

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
)

// maxLineSize bounds the lines rules run against. Longer lines, usually
// minified bundles, are skipped and the scan continues on the next line.
const maxLineSize = 1 << 20

// ExtractFunctions runs every rule for the file's extension against every
// line. Matches from different rules on the same line are all kept.
func ExtractFunctions(
	reg *patterns.Registry,
	path, workspace string,
	content []byte,
	logger *slog.Logger,
) []models.Function {
	rules, ok := reg.Lookup(models.Ext(path))
	if !ok {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	rel := path
	if workspace != "" {
		if r, err := filepath.Rel(workspace, path); err == nil {
			rel = r
		}
	}

	var out []models.Function
	lineNo := 0
	for rest := content; len(rest) > 0; {
		var raw []byte
		raw, rest, _ = bytes.Cut(rest, []byte{'\n'})
		lineNo++
		if len(raw) > maxLineSize {
			logger.Debug("skipping long line",
				slog.String("path", path), slog.Int("line", lineNo), slog.Int("size", len(raw)))
			continue
		}
		line := strings.TrimSuffix(string(raw), "\r")
		for _, rule := range rules {
			name, matched, err := rule.Match(line)
			if err != nil {
				logger.Warn("dropping malformed match",
					slog.String("path", path),
					slog.Int("line", lineNo),
					slog.String("pattern", rule.Pattern()),
					slog.Any("error", err))
				continue
			}
			if matched {
				out = append(out, models.Function{Name: name, Line: lineNo, RelativeFilePath: rel})
			}
		}
	}
	return out
}
