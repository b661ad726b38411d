package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/storage"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure Go driver and the default.
	DriverModernc = "sqlite"
	// DriverCGO is mattn/go-sqlite3.
	DriverCGO = "sqlite3"

	schemaVersion = 1
)

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
}

const schema = `
CREATE TABLE IF NOT EXISTS file_cache (
	fileName TEXT PRIMARY KEY,
	watermark INTEGER,
	lastAccessedAt INTEGER
);
CREATE TABLE IF NOT EXISTS file_functions (
	fileName TEXT PRIMARY KEY REFERENCES file_cache(fileName) ON DELETE CASCADE,
	functions TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS function_names (
	functionName TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS function_occurrences (
	functionName TEXT NOT NULL REFERENCES function_names(functionName) ON DELETE CASCADE,
	fileName TEXT NOT NULL REFERENCES file_cache(fileName) ON DELETE CASCADE,
	PRIMARY KEY (functionName, fileName)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_file_cache_last_accessed ON file_cache(lastAccessedAt);
CREATE INDEX IF NOT EXISTS idx_occurrences_file ON function_occurrences(fileName);`

const dropSchema = `
DROP TABLE IF EXISTS function_occurrences;
DROP TABLE IF EXISTS function_names;
DROP TABLE IF EXISTS file_functions;
DROP TABLE IF EXISTS file_cache;`

type Options struct {
	Driver string
}

// Store is the SQLite implementation of storage.Store. It holds a single
// connection so that every transaction is serialized.
type Store struct {
	db   *sql.DB
	path string
}

var _ storage.Store = (*Store)(nil)

func New(path string, opt Options) (*Store, error) {
	if opt.Driver == "" {
		opt.Driver = DriverModernc
	}
	if opt.Driver != DriverModernc && opt.Driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", opt.Driver)
	}
	db, err := sql.Open(opt.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

// UpsertFunctions replaces the function blob and occurrence rows of every
// given file.
func (s *Store) UpsertFunctions(ctx context.Context, entries map[string][]models.Function) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmts, err := prepareAll(ctx, tx,
		`INSERT INTO file_cache(fileName) VALUES(?) ON CONFLICT(fileName) DO NOTHING`,
		`INSERT INTO file_functions(fileName, functions) VALUES(?, ?)
		ON CONFLICT(fileName) DO UPDATE SET functions = excluded.functions`,
		`DELETE FROM function_occurrences WHERE fileName = ?`,
		`INSERT INTO function_names(functionName) VALUES(?) ON CONFLICT(functionName) DO NOTHING`,
		`INSERT INTO function_occurrences(functionName, fileName) VALUES(?, ?)
		ON CONFLICT(functionName, fileName) DO NOTHING`,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer closeAll(stmts)
	ensureFile, upsertBlob, clearOcc, upsertName, upsertOcc := stmts[0], stmts[1], stmts[2], stmts[3], stmts[4]

	for _, file := range sortedKeys(entries) {
		fns := entries[file]
		blob, err := storage.EncodeFunctions(fns)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode %s: %w", file, err)
		}
		if _, err := ensureFile.ExecContext(ctx, file); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := upsertBlob.ExecContext(ctx, file, string(blob)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := clearOcc.ExecContext(ctx, file); err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, fn := range fns {
			if _, err := upsertName.ExecContext(ctx, fn.Name); err != nil {
				_ = tx.Rollback()
				return err
			}
			if _, err := upsertOcc.ExecContext(ctx, fn.Name, file); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) UpsertLastAccess(ctx context.Context, entries map[string]int64) error {
	return s.upsertTimestamps(ctx, "lastAccessedAt", entries)
}

func (s *Store) UpsertWatermarks(ctx context.Context, entries map[string]int64) error {
	return s.upsertTimestamps(ctx, "watermark", entries)
}

// upsertTimestamps merges with MAX so that stale deliveries never move a
// timestamp backwards.
func (s *Store) upsertTimestamps(ctx context.Context, column string, entries map[string]int64) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO file_cache(fileName, %[1]s) VALUES(?, ?)
		ON CONFLICT(fileName) DO UPDATE SET
		%[1]s = MAX(COALESCE(file_cache.%[1]s, 0), excluded.%[1]s)`, column))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, file := range sortedKeys(entries) {
		if _, err := stmt.ExecContext(ctx, file, entries[file]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, dropSchema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("drop schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("create schema: %w", err)
	}
	return tx.Commit()
}

func (s *Store) LoadWatermarks(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fileName, watermark FROM file_cache WHERE watermark IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]int64)
	for rows.Next() {
		var file string
		var wm int64
		if err := rows.Scan(&file, &wm); err != nil {
			return nil, err
		}
		out[file] = wm
	}
	return out, rows.Err()
}

func (s *Store) LoadRecent(ctx context.Context, since int64) ([]models.FileFunctions, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fc.fileName, ff.functions
		FROM file_cache fc JOIN file_functions ff ON ff.fileName = fc.fileName
		WHERE fc.lastAccessedAt >= ?
		ORDER BY fc.fileName`, since)
	if err != nil {
		return nil, err
	}
	return scanFileFunctions(rows)
}

func (s *Store) ColdFiles(ctx context.Context, since int64, after string, limit int) ([]models.FileFunctions, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fc.fileName, ff.functions
		FROM file_cache fc JOIN file_functions ff ON ff.fileName = fc.fileName
		WHERE (fc.lastAccessedAt IS NULL OR fc.lastAccessedAt < ?) AND fc.fileName > ?
		ORDER BY fc.fileName
		LIMIT ?`, since, after, limit)
	if err != nil {
		return nil, err
	}
	return scanFileFunctions(rows)
}

func (s *Store) FilesContaining(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fileName FROM function_occurrences WHERE functionName = ? ORDER BY fileName`, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var file string
		if err := rows.Scan(&file); err != nil {
			return nil, err
		}
		out = append(out, file)
	}
	return out, rows.Err()
}

func (s *Store) FunctionsInFile(ctx context.Context, path string) ([]models.Function, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT functions FROM file_functions WHERE fileName = ?`, path).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return storage.DecodeFunctions([]byte(blob))
}

func scanFileFunctions(rows *sql.Rows) ([]models.FileFunctions, error) {
	defer func() { _ = rows.Close() }()
	var out []models.FileFunctions
	for rows.Next() {
		var file, blob string
		if err := rows.Scan(&file, &blob); err != nil {
			return nil, err
		}
		fns, err := storage.DecodeFunctions([]byte(blob))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		out = append(out, models.FileFunctions{Path: file, Functions: fns})
	}
	return out, rows.Err()
}

func prepareAll(ctx context.Context, tx *sql.Tx, queries ...string) ([]*sql.Stmt, error) {
	stmts := make([]*sql.Stmt, 0, len(queries))
	for _, q := range queries {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			closeAll(stmts)
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func closeAll(stmts []*sql.Stmt) {
	for _, stmt := range stmts {
		_ = stmt.Close()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
