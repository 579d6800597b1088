package cache

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lumik/renloc/internal/extract"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is the sqlite-backed checkpoint store. It is the single source of
// truth for resumability: a unit whose ID has a Done record is never
// re-dispatched.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Lookup returns the record for an ID, if any.
func (s *Store) Lookup(ctx context.Context, id string) (Record, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, source_text, result, backend, error, updated_at
		 FROM translation_cache
		 WHERE id = ?`,
		id,
	)

	var rec Record
	var status string
	if err := row.Scan(&rec.ID, &status, &rec.SourceText, &rec.Result, &rec.Backend, &rec.Error, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	rec.Status = extract.Status(status)

	if !Terminal(rec.Status) {
		// A non-terminal row can only come from a corrupted or
		// hand-edited store; treat it as absent rather than trusting it.
		return Record{}, false, fmt.Errorf("cache record %s has non-terminal status %q", rec.ID, rec.Status)
	}
	return rec, true, nil
}

// LookupMany resolves a set of IDs in one query round-trip per chunk.
func (s *Store) LookupMany(ctx context.Context, ids []string) (map[string]Record, error) {
	ret := make(map[string]Record, len(ids))

	const chunkSize = 500
	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(
			ctx,
			`SELECT id, status, source_text, result, backend, error, updated_at
			 FROM translation_cache
			 WHERE id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			var rec Record
			var status string
			if err := rows.Scan(&rec.ID, &status, &rec.SourceText, &rec.Result, &rec.Backend, &rec.Error, &rec.UpdatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			rec.Status = extract.Status(status)
			if !Terminal(rec.Status) {
				continue
			}
			ret[rec.ID] = rec
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return ret, nil
}

// Commit durably records a terminal outcome. The upsert is a single
// statement, so a crash mid-commit leaves either the old row or the new
// row, never a partial one.
func (s *Store) Commit(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if !Terminal(rec.Status) {
		return fmt.Errorf("refusing to commit non-terminal status %q for %s", rec.Status, rec.ID)
	}

	updatedAt := rec.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translation_cache (id, status, source_text, result, backend, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			source_text=excluded.source_text,
			result=excluded.result,
			backend=excluded.backend,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		rec.ID,
		string(rec.Status),
		rec.SourceText,
		rec.Result,
		rec.Backend,
		rec.Error,
		updatedAt,
	)
	return err
}

// Invalidate removes a record so its unit is re-dispatched next run.
func (s *Store) Invalidate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM translation_cache WHERE id = ?`, id)
	return err
}

// InvalidateStatus removes every record with the given status. Used by
// retry passes that target failed or skipped units.
func (s *Store) InvalidateStatus(ctx context.Context, status extract.Status) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_cache WHERE status = ?`, string(status))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns all records with the given status, oldest first.
func (s *Store) List(ctx context.Context, status extract.Status) ([]Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, status, source_text, result, backend, error, updated_at
		 FROM translation_cache
		 WHERE status = ?
		 ORDER BY updated_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var st string
		if err := rows.Scan(&rec.ID, &st, &rec.SourceText, &rec.Result, &rec.Backend, &rec.Error, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = extract.Status(st)
		ret = append(ret, rec)
	}
	return ret, rows.Err()
}

// Summary counts records per status.
func (s *Store) Summary(ctx context.Context) (map[extract.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM translation_cache GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[extract.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		ret[extract.Status(status)] = count
	}
	return ret, rows.Err()
}
