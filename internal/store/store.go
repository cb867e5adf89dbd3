// Package store is the SQLite ledger behind the bot: an audit trail of
// commands, a log of budgeted actions and the posts that went out.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trendpost/internal/util"
)

// DB wraps a SQLite database.
type DB struct{ sql *sql.DB }

// Open opens (and migrates) the database at path. ":memory:" keeps
// everything in process memory.
func Open(path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// every pooled connection to :memory: would see its own empty database
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS events (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  type TEXT NOT NULL,
	  payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE TABLE IF NOT EXISTS actions (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  kind TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_kind_ts ON actions(kind, ts);
	CREATE TABLE IF NOT EXISTS publications (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  url TEXT NOT NULL,
	  text TEXT NOT NULL,
	  text_hash TEXT NOT NULL,
	  model TEXT,
	  query TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_publications_hash ON publications(text_hash);
	`)
	return err
}

// PutEvent appends an audit event; payload is stored as JSON.
func (d *DB) PutEvent(ctx context.Context, ts time.Time, typ string, payload any) error {
	pb, _ := json.Marshal(payload)
	_, err := d.sql.ExecContext(ctx, `INSERT INTO events(ts, type, payload) VALUES(?,?,?)`, ts.Unix(), typ, string(pb))
	return err
}

// Event is a stored audit event.
type Event struct {
	TS      time.Time
	Type    string
	Payload string
}

// LoadEventsRange returns events in [start, end), optionally of one type.
func (d *DB) LoadEventsRange(ctx context.Context, start, end time.Time, typ string) ([]Event, error) {
	var rows *sql.Rows
	var err error
	if typ == "" {
		rows, err = d.sql.QueryContext(ctx, `SELECT ts, type, payload FROM events WHERE ts>=? AND ts<? ORDER BY ts, id`, start.Unix(), end.Unix())
	} else {
		rows, err = d.sql.QueryContext(ctx, `SELECT ts, type, payload FROM events WHERE ts>=? AND ts<? AND type=? ORDER BY ts, id`, start.Unix(), end.Unix(), typ)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ts int64
		var e Event
		var payload sql.NullString
		if err := rows.Scan(&ts, &e.Type, &payload); err != nil {
			return nil, err
		}
		e.TS = time.Unix(ts, 0).UTC()
		e.Payload = payload.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutAction records one budgeted action of kind at ts.
func (d *DB) PutAction(ctx context.Context, ts time.Time, kind string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO actions(ts, kind) VALUES(?,?)`, ts.Unix(), kind)
	return err
}

// CountActionsWithin counts actions of kind in [start, end).
func (d *DB) CountActionsWithin(ctx context.Context, start, end time.Time, kind string) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions WHERE kind=? AND ts>=? AND ts<?`, kind, start.Unix(), end.Unix()).Scan(&n)
	return n, err
}

// NthOldestAction returns the timestamp of the n-th oldest (0-based) action
// of kind in [start, end). ok is false when there are not that many.
func (d *DB) NthOldestAction(ctx context.Context, start, end time.Time, kind string, n int) (ts time.Time, ok bool, err error) {
	var sec int64
	err = d.sql.QueryRowContext(ctx, `SELECT ts FROM actions WHERE kind=? AND ts>=? AND ts<? ORDER BY ts LIMIT 1 OFFSET ?`,
		kind, start.Unix(), end.Unix(), n).Scan(&sec)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(sec, 0).UTC(), true, nil
}

// Publication is a post that went out.
type Publication struct {
	TS    time.Time
	URL   string
	Text  string
	Model string
	Query string
}

// PutPublication stores p together with the hash of its text.
func (d *DB) PutPublication(ctx context.Context, p Publication) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO publications(ts, url, text, text_hash, model, query) VALUES(?,?,?,?,?,?)`,
		p.TS.Unix(), p.URL, p.Text, TextHash(p.Text), p.Model, p.Query)
	return err
}

// RecentPublications returns up to limit publications, newest first.
func (d *DB) RecentPublications(ctx context.Context, limit int) ([]Publication, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT ts, url, text, COALESCE(model,''), COALESCE(query,'') FROM publications ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Publication
	for rows.Next() {
		var ts int64
		var p Publication
		if err := rows.Scan(&ts, &p.URL, &p.Text, &p.Model, &p.Query); err != nil {
			return nil, err
		}
		p.TS = time.Unix(ts, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// PublishedSince reports whether text (compared case and whitespace
// insensitively) was published at or after since.
func (d *DB) PublishedSince(ctx context.Context, text string, since time.Time) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM publications WHERE text_hash=? AND ts>=?`, TextHash(text), since.Unix()).Scan(&n)
	return n > 0, err
}

// TextHash fingerprints post text for duplicate detection.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(util.NormalizeWhitespace(text))))
	return hex.EncodeToString(sum[:])
}
