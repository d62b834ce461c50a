// SPDX-License-Identifier: GPL-2.0-or-later

// Package web serves the recorder's HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/ledger"
	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/recorder"
	"github.com/EvanMerlock/sports-record/pkg/system"

	"github.com/gorilla/websocket"
)

const (
	jsonContentType = "application/json"
	writeTimeout    = 5 * time.Second
)

// Recorder operator commands.
type Recorder interface {
	Start(ctx context.Context) (int64, error)
	Stop() bool
	Cleanup()
	Remove(addrs ...string) error
	Clients() []recorder.ClientInfo
}

// PlayQuerier queries the ledger.
type PlayQuerier interface {
	GameID() int64
	Plays(ctx context.Context, gameID int64) ([]ledger.Play, error)
}

// LogQuerier queries stored logs.
type LogQuerier interface {
	Query(q log.Query) (*[]log.Log, error)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Clients returns the registered camera nodes.
func Clients(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rec.Clients())
	}
}

// RecordStart opens a play and starts recording on every client.
func RecordStart(rec Recorder, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		play, err := rec.Start(r.Context())
		if errors.Is(err, ledger.ErrPlayOpen) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			logger.Error().Src("app").Msgf("start recording: %v", err)
			http.Error(w, "could not start recording", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]int64{"play": play})
	}
}

// RecordStop stops recording on every client and closes the play.
func RecordStop(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"stopped": rec.Stop()})
	}
}

// ClientsRemove removes the clients in the addr list.
func ClientsRemove(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addrs := parseCSVParam(r.URL.Query(), "addr")
		if len(addrs) == 0 {
			http.Error(w, "addr missing", http.StatusBadRequest)
			return
		}
		err := rec.Remove(addrs...)
		if errors.Is(err, recorder.ErrClientNotExist) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// ClientsClean removes every client.
func ClientsClean(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec.Cleanup()
	}
}

// Plays returns the plays of a game, the current game by default.
func Plays(q PlayQuerier, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := q.GameID()
		if game := r.URL.Query().Get("game"); game != "" {
			id, err := strconv.ParseInt(game, 10, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid game: %v", err), http.StatusBadRequest)
				return
			}
			gameID = id
		}

		plays, err := q.Plays(r.Context(), gameID)
		if err != nil {
			logger.Error().Src("app").Msgf("query plays: %v", err)
			http.Error(w, "could not query plays", http.StatusInternalServerError)
			return
		}
		writeJSON(w, plays)
	}
}

// SystemStatus returns cpu, ram and disk usage.
func SystemStatus(status func() system.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status())
	}
}

func parseCSVParam(query url.Values, key string) []string {
	csv := query.Get(key)
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

func parseLevels(query url.Values) ([]log.Level, error) {
	var levels []log.Level
	for _, levelStr := range parseCSVParam(query, "levels") {
		levelInt, err := strconv.Atoi(levelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid levels list: %v %w", query.Get("levels"), err)
		}
		levels = append(levels, log.Level(levelInt))
	}
	return levels, nil
}

func parseLogQuery(query url.Values) (log.Query, error) {
	levels, err := parseLevels(query)
	if err != nil {
		return log.Query{}, err
	}
	return log.Query{
		Levels:  levels,
		Sources: parseCSVParam(query, "sources"),
		Clients: parseCSVParam(query, "clients"),
	}, nil
}

// LogFeed opens a websocket with system logs.
func LogFeed(logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseLogQuery(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		feed, cancel := logger.Subscribe()
		defer cancel()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			var entry log.Log
			select {
			case e, ok := <-feed:
				if !ok {
					return
				}
				entry = e
			case <-closed:
				return
			}

			if !log.Matches(entry, q) {
				continue
			}
			c.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}

// LogQuery handles log queries.
func LogQuery(logDB LogQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		q, err := parseLogQuery(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if limit := query.Get("limit"); limit != "" {
			q.Limit, err = strconv.Atoi(limit)
			if err != nil {
				http.Error(w, fmt.Sprintf("could not convert limit to int: %v", err), http.StatusBadRequest)
				return
			}
		}
		if t := query.Get("time"); t != "" {
			timeInt, err := strconv.ParseUint(t, 10, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("could not convert time to int: %v", err), http.StatusBadRequest)
				return
			}
			q.Time = log.UnixMicro(timeInt)
		}

		logs, err := logDB.Query(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logs)
	}
}
