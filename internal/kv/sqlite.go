package kv

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the persistent implementation of Store: one table per
// keyspace, ordered by key, so Range is a plain indexed scan. Used when
// DB_PATH points at a file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if absent) a SQLite-backed store at path.
// WAL mode is enabled for concurrent readers against the single flush
// worker's writer.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer contract: serialize at the connection level too

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) tableFor(ks Keyspace) string {
	switch ks {
	case Main:
		return "kv_main"
	case Indexes:
		return "kv_indexes"
	case Meta:
		return "kv_meta"
	default:
		return "kv_main"
	}
}

func (s *SQLiteStore) initSchema() error {
	for _, ks := range []Keyspace{Main, Indexes, Meta} {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`, s.tableFor(ks))
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create table for keyspace %s: %w", ks, err)
		}
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, ks Keyspace, key string) ([]byte, bool, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", s.tableFor(ks))
	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Range implements Store. The scan is half-open [Start, End).
func (s *SQLiteStore) Range(ctx context.Context, ks Keyspace, opts RangeOptions) ([]Entry, error) {
	query := fmt.Sprintf("SELECT key, value FROM %s WHERE key >= ? AND key < ? ORDER BY key", s.tableFor(ks))
	args := []any{opts.Start, opts.End}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Batch implements Store, applying every op inside a single transaction.
func (s *SQLiteStore) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, op := range ops {
		table := s.tableFor(op.Keyspace)
		if op.Put {
			query := fmt.Sprintf("INSERT INTO %s (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", table)
			if _, err := tx.ExecContext(ctx, query, op.Key, op.Value); err != nil {
				return fmt.Errorf("put %s/%s: %w", op.Keyspace, op.Key, err)
			}
		} else {
			query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", table)
			if _, err := tx.ExecContext(ctx, query, op.Key); err != nil {
				return fmt.Errorf("delete %s/%s: %w", op.Keyspace, op.Key, err)
			}
		}
	}

	return tx.Commit()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
