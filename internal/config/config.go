// Package config loads the indexer settings from an optional YAML file and
// fills in defaults for everything left out.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0x5457/fn-index/internal/patterns"
	"github.com/0x5457/fn-index/internal/scanner"
)

// FileName is looked up in the workspace root when no path is given.
const FileName = ".fn-index.yaml"

const (
	DriverSQLite  = "sqlite"
	DriverSQLite3 = "sqlite3"
)

type Config struct {
	// Workspace and DataDir come from the command line, not the file.
	Workspace string `yaml:"-"`

	Patterns     map[string][]patterns.RuleSpec `yaml:"patterns"`
	Exclusions   []string                       `yaml:"exclusions"`
	ExcludeGlobs []string                       `yaml:"exclude_globs"`

	Scheduler Scheduler `yaml:"scheduler"`
	Worker    Worker    `yaml:"worker"`
	Cache     Cache     `yaml:"cache"`
	Persist   Persist   `yaml:"persist"`
	Search    Search    `yaml:"search"`
	Scanner   Scanner   `yaml:"scanner"`
	Store     Store     `yaml:"store"`
	Log       Log       `yaml:"log"`
}

type Scheduler struct {
	Debounce           time.Duration `yaml:"debounce"`
	ActiveFileDebounce time.Duration `yaml:"active_file_debounce"`
	MaxHighBurst       int           `yaml:"max_high_burst"`
}

type Worker struct {
	MaxIngress    int           `yaml:"max_ingress"`
	IngressPoll   time.Duration `yaml:"ingress_poll"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
}

type Cache struct {
	MaxSize int `yaml:"max_size"`
}

type Persist struct {
	Interval time.Duration `yaml:"interval"`
}

type Search struct {
	WindowDays int `yaml:"window_days"`
	PageSize   int `yaml:"page_size"`
	MaxResults int `yaml:"max_results"`
}

type Scanner struct {
	SkipUnchangedDirs bool `yaml:"skip_unchanged_dirs"`
}

type Store struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Patterns: map[string][]patterns.RuleSpec{},
		Scheduler: Scheduler{
			Debounce:           2 * time.Second,
			ActiveFileDebounce: 200 * time.Millisecond,
		},
		Worker: Worker{
			MaxIngress:    1000,
			IngressPoll:   10 * time.Millisecond,
			HealthTimeout: 10 * time.Second,
		},
		Cache:   Cache{MaxSize: 10000},
		Persist: Persist{Interval: 30 * time.Second},
		Search: Search{
			WindowDays: 14,
			PageSize:   200,
			MaxResults: 100,
		},
		Scanner: Scanner{SkipUnchangedDirs: true},
		Store:   Store{Driver: DriverSQLite},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Patterns == nil {
		cfg.Patterns = map[string][]patterns.RuleSpec{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Discover returns the config file inside workspace, or "" when there is none.
func Discover(workspace string) string {
	if workspace == "" {
		return ""
	}
	path := filepath.Join(workspace, FileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	positive("scheduler.active_file_debounce", int64(c.Scheduler.ActiveFileDebounce))
	positive("worker.max_ingress", int64(c.Worker.MaxIngress))
	positive("worker.ingress_poll", int64(c.Worker.IngressPoll))
	positive("worker.health_timeout", int64(c.Worker.HealthTimeout))
	positive("cache.max_size", int64(c.Cache.MaxSize))
	positive("persist.interval", int64(c.Persist.Interval))
	positive("search.window_days", int64(c.Search.WindowDays))
	positive("search.page_size", int64(c.Search.PageSize))
	positive("search.max_results", int64(c.Search.MaxResults))
	if c.Scheduler.Debounce < 0 {
		errs = append(errs, errors.New("scheduler.debounce must not be negative"))
	}
	if c.Scheduler.MaxHighBurst < 0 {
		errs = append(errs, errors.New("scheduler.max_high_burst must not be negative"))
	}
	if !slices.Contains([]string{DriverSQLite, DriverSQLite3}, c.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver %q: want %q or %q", c.Store.Driver, DriverSQLite, DriverSQLite3))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SearchWindow is the recently-accessed window as a duration.
func (c *Config) SearchWindow() time.Duration {
	return time.Duration(c.Search.WindowDays) * 24 * time.Hour
}

// Filter merges the configured exclusions with the built-in ones.
func (c *Config) Filter() scanner.Filter {
	return scanner.NewFilter(scanner.MergeExclusions(scanner.DefaultExclusions, c.Exclusions), c.ExcludeGlobs)
}
