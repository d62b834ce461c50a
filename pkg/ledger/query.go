// SPDX-License-Identifier: GPL-2.0-or-later

package ledger

import (
	"context"
	"fmt"
)

// Play ledger row with its clips.
type Play struct {
	ID     int64    `json:"id"`
	GameID int64    `json:"gameId"`
	Clips  []string `json:"clips"`
}

// Clips returns the clip uuids of a play in insertion order.
func (l *Ledger) Clips(ctx context.Context, playID int64) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.clips(ctx, playID)
}

func (l *Ledger) clips(ctx context.Context, playID int64) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT uuid FROM clips WHERE play_id = ? ORDER BY id", playID)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	clips := []string{}
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		clips = append(clips, uuid)
	}
	return clips, rows.Err()
}

// Plays returns the plays of a game with their clips.
func (l *Ledger) Plays(ctx context.Context, gameID int64) ([]Play, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx,
		"SELECT id FROM plays WHERE game_id = ? ORDER BY id", gameID)
	if err != nil {
		return nil, fmt.Errorf("query plays: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan play: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Single connection, the rows must be closed before the next query.
	plays := make([]Play, 0, len(ids))
	for _, id := range ids {
		clips, err := l.clips(ctx, id)
		if err != nil {
			return nil, err
		}
		plays = append(plays, Play{ID: id, GameID: gameID, Clips: clips})
	}
	return plays, nil
}
