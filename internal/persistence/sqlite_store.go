package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/sairing/internal/artifact"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore persists artifact snapshots in a single sqlite database. Each
// Save replaces both tables inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

var _ artifact.Persister = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
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
		// embed.FS paths always use forward slashes.
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
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

// Load reads every row. Rows whose payload cannot be decoded are skipped and
// reported in the returned error.
func (s *SQLiteStore) Load(ctx context.Context) (artifact.Snapshot, error) {
	snap := artifact.NewSnapshot()
	var errs []error

	rows, err := s.db.QueryContext(ctx, `SELECT key, payload, created_at FROM cache_entries`)
	if err != nil {
		return snap, fmt.Errorf("query cache entries: %w", err)
	}
	for rows.Next() {
		var (
			key       string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&key, &payload, &createdAt); err != nil {
			errs = append(errs, err)
			continue
		}
		var p artifact.Payload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			errs = append(errs, fmt.Errorf("decode entry %s: %w", key, err))
			continue
		}
		snap.Entries[key] = artifact.Entry{Key: key, Payload: p, CreatedAt: time.UnixMilli(createdAt)}
	}
	errs = append(errs, rows.Err())
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT media_key, mimetype, filename, extra, created_at FROM cache_metadata`)
	if err != nil {
		errs = append(errs, fmt.Errorf("query cache metadata: %w", err))
		return snap, errors.Join(errs...)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			meta      artifact.Metadata
			extra     string
			createdAt int64
		)
		if err := rows.Scan(&meta.MediaKey, &meta.Mimetype, &meta.Filename, &extra, &createdAt); err != nil {
			errs = append(errs, err)
			continue
		}
		if extra != "" && extra != "{}" {
			if err := json.Unmarshal([]byte(extra), &meta.Extra); err != nil {
				errs = append(errs, fmt.Errorf("decode metadata %s: %w", meta.MediaKey, err))
			}
		}
		meta.CreatedAt = time.UnixMilli(createdAt)
		snap.Metadata[meta.MediaKey] = meta
	}
	errs = append(errs, rows.Err())

	return snap, errors.Join(errs...)
}

func (s *SQLiteStore) Save(ctx context.Context, snap artifact.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_metadata`); err != nil {
		return err
	}

	for key, e := range snap.Entries {
		var payload []byte
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", key, err)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO cache_entries (key, payload, created_at) VALUES (?, ?, ?)`,
			key, string(payload), e.CreatedAt.UnixMilli(),
		); err != nil {
			return err
		}
	}

	for key, m := range snap.Metadata {
		extra := []byte("{}")
		if len(m.Extra) > 0 {
			extra, err = json.Marshal(m.Extra)
			if err != nil {
				return fmt.Errorf("encode metadata %s: %w", key, err)
			}
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO cache_metadata (media_key, mimetype, filename, extra, created_at) VALUES (?, ?, ?, ?, ?)`,
			key, m.Mimetype, m.Filename, string(extra), m.CreatedAt.UnixMilli(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
