// Package ledger implements the durable audit trail of dispatch decisions.
// Rows are written asynchronously to a SQLite database; the JSON ledger file
// stays authoritative for replication, this database serves queries and
// long-term retention.
package ledger

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Row is one audited dispatch decision ready for insertion.
type Row struct {
	ID        string
	TsNs      int64
	UserID    string
	TaxiID    string
	Outcome   string
	PickupX   int
	PickupY   int
	LatencyMs float64
}

// Repo wraps the ledger database handle.
type Repo struct {
	db   *sql.DB
	path string
}

// OpenRepo opens (or creates) ledger.db at path and applies migrations.
func OpenRepo(path string) (*Repo, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db, path: path}, nil
}

// Close closes the database handle.
func (r *Repo) Close() error {
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// OpenDB opens a SQLite database at path with the standard pragmas:
// WAL journal mode, synchronous=NORMAL, foreign_keys=ON, busy_timeout=5000.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

// InsertBatch inserts a batch of rows in a single transaction. Returns the
// number of rows inserted; individual row failures are skipped.
func (r *Repo) InsertBatch(rows []Row) (int, error) {
	if r.db == nil {
		return 0, fmt.Errorf("ledger repo: no open db")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("ledger repo begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO dispatch_ledger (
		id, ts_ns, user_id, taxi_id, outcome, pickup_x, pickup_y, latency_ms
	) VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("ledger repo prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range rows {
		row := &rows[i]
		if _, err := stmt.Exec(
			row.ID, row.TsNs, row.UserID, row.TaxiID, row.Outcome,
			row.PickupX, row.PickupY, row.LatencyMs,
		); err != nil {
			continue // skip individual row errors
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger repo commit: %w", err)
	}
	return inserted, nil
}

// ListFilter specifies query filters for listing ledger rows.
type ListFilter struct {
	UserID  string
	TaxiID  string
	Outcome string
	Before  int64 // ts_ns < Before (0 means no upper bound)
	After   int64 // ts_ns > After (0 means no lower bound)
	Limit   int
}

// List returns matching rows ordered by ts_ns DESC, same ts_ns by id ASC.
func (r *Repo) List(f ListFilter) ([]Row, error) {
	if r.db == nil {
		return nil, fmt.Errorf("ledger repo: no open db")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 10000 {
		limit = 10000
	}

	var where []string
	var args []interface{}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.TaxiID != "" {
		where = append(where, "taxi_id = ?")
		args = append(args, f.TaxiID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if f.Before > 0 {
		where = append(where, "ts_ns < ?")
		args = append(args, f.Before)
	}
	if f.After > 0 {
		where = append(where, "ts_ns > ?")
		args = append(args, f.After)
	}

	q := "SELECT id, ts_ns, user_id, taxi_id, outcome, pickup_x, pickup_y, latency_ms FROM dispatch_ledger"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts_ns DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger repo list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(
			&row.ID, &row.TsNs, &row.UserID, &row.TaxiID, &row.Outcome,
			&row.PickupX, &row.PickupY, &row.LatencyMs,
		); err != nil {
			return nil, fmt.Errorf("ledger repo scan: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count returns the total number of ledger rows.
func (r *Repo) Count() (int, error) {
	if r.db == nil {
		return 0, fmt.Errorf("ledger repo: no open db")
	}
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM dispatch_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger repo count: %w", err)
	}
	return n, nil
}

// PruneKeepNewest deletes everything but the retain newest rows by ts_ns.
// Returns the number of rows deleted.
func (r *Repo) PruneKeepNewest(retain int) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("ledger repo: no open db")
	}
	if retain <= 0 {
		retain = 1
	}
	res, err := r.db.Exec(`DELETE FROM dispatch_ledger WHERE id NOT IN (
		SELECT id FROM dispatch_ledger ORDER BY ts_ns DESC, id ASC LIMIT ?
	)`, retain)
	if err != nil {
		return 0, fmt.Errorf("ledger repo prune: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger repo prune rows affected: %w", err)
	}
	return deleted, nil
}
