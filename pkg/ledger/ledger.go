// SPDX-License-Identifier: GPL-2.0-or-later

// Package ledger persists games, plays and clips.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // sqlite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id   INTEGER PRIMARY KEY,
	date TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS plays (
	id      INTEGER PRIMARY KEY,
	game_id INTEGER NOT NULL REFERENCES games(id)
);
CREATE TABLE IF NOT EXISTS clips (
	id      INTEGER PRIMARY KEY,
	uuid    TEXT NOT NULL UNIQUE,
	play_id INTEGER NOT NULL REFERENCES plays(id)
);`

const dateLayout = "2006-01-02"

// Ledger errors.
var (
	ErrPlayOpen = errors.New("a play is already open")
	ErrNoPlay   = errors.New("no play is open")
)

// Ledger recording ledger. At most one play is open at a time.
type Ledger struct {
	db     *sql.DB
	gameID int64

	// Guards the connection and every mutation.
	mu sync.Mutex

	playNumber    atomic.Int64
	inTransaction atomic.Bool
}

// Open opens the database at path, creates the tables and the
// game for the current day. Use ":memory:" for a temporary database.
func Open(ctx context.Context, path string) (*Ledger, error) {
	return open(ctx, path, time.Now)
}

func open(ctx context.Context, path string, now func() time.Time) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Pragmas and in-memory databases are per connection.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.init(ctx, now()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) init(ctx context.Context, today time.Time) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := l.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%v: %w", pragma, err)
		}
	}

	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	date := today.Format(dateLayout)
	_, err := l.db.ExecContext(ctx, "INSERT OR IGNORE INTO games (date) VALUES (?)", date)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	err = l.db.QueryRowContext(ctx, "SELECT id FROM games WHERE date = ?", date).Scan(&l.gameID)
	if err != nil {
		return fmt.Errorf("query game: %w", err)
	}

	var maxPlay sql.NullInt64
	err = l.db.QueryRowContext(ctx, "SELECT MAX(id) FROM plays").Scan(&maxPlay)
	if err != nil {
		return fmt.Errorf("query play number: %w", err)
	}
	l.playNumber.Store(maxPlay.Int64 + 1)

	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// GameID returns the id of the current day's game.
func (l *Ledger) GameID() int64 {
	return l.gameID
}

// PlayNumber returns the id of the open play, or the next play if none is open.
func (l *Ledger) PlayNumber() int64 {
	return l.playNumber.Load()
}

// InTransaction reports if a play is open.
func (l *Ledger) InTransaction() bool {
	return l.inTransaction.Load()
}

// StartPlay opens a new play. Fails with ErrPlayOpen if one is already open.
func (l *Ledger) StartPlay(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inTransaction.Load() {
		return 0, fmt.Errorf("%w: %d", ErrPlayOpen, l.playNumber.Load())
	}

	play := l.playNumber.Load()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO plays (id, game_id) VALUES (?, ?)", play, l.gameID)
	if err != nil {
		return 0, fmt.Errorf("insert play %d: %w", play, err)
	}

	l.inTransaction.Store(true)
	return play, nil
}

// InsertClip records a segment file for the open play.
// Fails with ErrNoPlay if no play is open.
func (l *Ledger) InsertClip(ctx context.Context, uuid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.inTransaction.Load() {
		return fmt.Errorf("%w: clip %v", ErrNoPlay, uuid)
	}

	play := l.playNumber.Load()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO clips (uuid, play_id) VALUES (?, ?)", uuid, play)
	if err != nil {
		return fmt.Errorf("insert clip %v: %w", uuid, err)
	}
	return nil
}

// EndPlay closes the open play and returns true if there was one.
// The play number is advanced either way.
func (l *Ledger) EndPlay() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	wasOpen := l.inTransaction.Swap(false)
	l.playNumber.Add(1)
	return wasOpen
}
