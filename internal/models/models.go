package models

import (
	"path/filepath"
	"strconv"
	"strings"
)

// ExtensionAll is the extension filter that accepts every supported file.
const ExtensionAll = "__all__"

type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// Higher returns the more urgent of two priorities.
func (p Priority) Higher(o Priority) Priority {
	if p == PriorityHigh || o == PriorityHigh {
		return PriorityHigh
	}
	return PriorityLow
}

type Source string

const (
	SourceInitialLoad Source = "initialLoad"
	SourceFileWatcher Source = "fileWatcher"
	SourceActiveFile  Source = "activeFile"
	SourceCommand     Source = "command"
)

// Task asks the discovery stage to scan a file or directory.
type Task struct {
	FilePath      string
	Extension     string
	Priority      Priority
	WorkspacePath string
	Source        Source
	InitialLoad   bool
}

// Function is a single function definition found in a file.
type Function struct {
	Name             string `json:"name"`
	Line             int    `json:"line"`
	RelativeFilePath string `json:"relativeFilePath"`
}

type FileRecord struct {
	Path           string
	Watermark      int64
	LastAccessedAt int64
	Extension      string
}

// FileFunctions is one entry of the function index.
type FileFunctions struct {
	Path      string
	Functions []Function
}

type SearchHit struct {
	Name             string `json:"name"`
	File             string `json:"file"`
	RelativeFilePath string `json:"relativeFilePath"`
	Line             int    `json:"line"`
	Extension        string `json:"extension"`
}

// Description renders the hit location as rel:line.
func (h SearchHit) Description() string {
	return h.RelativeFilePath + ":" + strconv.Itoa(h.Line)
}

type EventKind string

const (
	EventChange EventKind = "change"
	EventCreate EventKind = "create"
	EventDelete EventKind = "delete"
)

type FileEvent struct {
	Path string
	Kind EventKind
}

// Status is a point-in-time view of the indexing pipeline.
type Status struct {
	Ready     bool `json:"ready"`
	Pending   int  `json:"pending"`
	InFlight  int  `json:"inFlight"`
	Files     int  `json:"files"`
	Functions int  `json:"functions"`
	Restarts  int  `json:"restarts"`
}

// Idle reports whether no scan or extraction work is outstanding.
func (s Status) Idle() bool {
	return s.Pending == 0 && s.InFlight == 0
}

// Ext returns the lowercased extension of path including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
