package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/0x5457/fn-index/internal/models"
)

// BlobVersion is the current version of the serialized function list.
const BlobVersion = 1

var (
	// ErrLocked is returned when another process holds the workspace store.
	ErrLocked = errors.New("index store is locked by another process")
	// ErrUnsupportedBlob is returned for blobs written by a newer release.
	ErrUnsupportedBlob = errors.New("unsupported function blob version")
)

// Store is the persistent, normalized function index for one workspace.
type Store interface {
	UpsertFunctions(ctx context.Context, entries map[string][]models.Function) error
	UpsertLastAccess(ctx context.Context, entries map[string]int64) error
	UpsertWatermarks(ctx context.Context, entries map[string]int64) error
	// Clear drops and recreates the schema.
	Clear(ctx context.Context) error

	LoadWatermarks(ctx context.Context) (map[string]int64, error)
	// LoadRecent returns the function lists of files accessed at or after since.
	LoadRecent(ctx context.Context, since int64) ([]models.FileFunctions, error)
	// ColdFiles pages through files not accessed since the given time, ordered
	// by path and starting after the given path.
	ColdFiles(ctx context.Context, since int64, after string, limit int) ([]models.FileFunctions, error)
	FilesContaining(ctx context.Context, name string) ([]string, error)
	FunctionsInFile(ctx context.Context, path string) ([]models.Function, error)

	Close() error
}

type functionsBlob struct {
	Version   int               `json:"version"`
	Functions []models.Function `json:"functions"`
}

// EncodeFunctions serializes a file's function list into a versioned blob.
func EncodeFunctions(fns []models.Function) ([]byte, error) {
	if fns == nil {
		fns = []models.Function{}
	}
	return json.Marshal(functionsBlob{Version: BlobVersion, Functions: fns})
}

// DecodeFunctions reads a blob written by EncodeFunctions. Unversioned blobs
// holding a bare JSON array are read as version 0.
func DecodeFunctions(data []byte) ([]models.Function, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var fns []models.Function
		if err := json.Unmarshal(data, &fns); err != nil {
			return nil, fmt.Errorf("decode legacy blob: %w", err)
		}
		return fns, nil
	}
	var blob functionsBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	if blob.Version > BlobVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBlob, blob.Version)
	}
	return blob.Functions, nil
}
