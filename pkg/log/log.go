// SPDX-License-Identifier: GPL-2.0-or-later

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return "level(" + fmt.Sprint(uint8(l)) + ")"
	}
}

// UnixMicro time in microseconds.
type UnixMicro uint64

// Event defines log event.
type Event struct {
	level  Level
	time   UnixMicro
	src    string
	client string

	logger *Logger
}

// Log defines log entry.
type Log struct {
	Level  Level
	Time   UnixMicro
	Msg    string
	Src    string // Source.
	Client string // Peer address of the source camera node.
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Client sets event client address.
func (e *Event) Client(addr string) *Event {
	e.client = addr
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMicro(t.UnixMicro())
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	log := Log{
		Time:   e.time,
		Level:  e.level,
		Msg:    msg,
		Src:    e.src,
		Client: e.client,
	}

	select {
	case e.logger.feed <- log:
	case <-e.logger.done:
	}
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed defines feed of logs.
type Feed <-chan Log
type logFeed chan Log

// Logger logs.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	// Closed when the logger stops.
	done chan struct{}

	wg *sync.WaitGroup
}

// NewLogger returns a new Logger, it must be started.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		done:  make(chan struct{}),
		wg:    wg,
	}
}

// NewMockLogger returns a stopped logger that drops every message.
func NewMockLogger() *Logger {
	l := NewLogger(&sync.WaitGroup{})
	close(l.done)
	return l
}

// Start logger.
func (l *Logger) Start(ctx context.Context) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)

		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				// A full subscriber misses the message.
				for ch := range subs {
					select {
					case ch <- msg:
					default:
					}
				}
			}
		}
	}()
	return nil
}

// Capacity of a subscriber's feed.
const subscriberBuffer = 256

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
// Messages are dropped while the feed is full.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed, subscriberBuffer)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
		return feed, func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		case <-l.done:
			return
		}
	}
}

// LogToStdout prints log feed to Stdout.
func (l *Logger) LogToStdout(ctx context.Context) {
	l.LogToWriter(ctx, os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
}

// LogToWriter prints log feed to w, with colored levels if color is true.
func (l *Logger) LogToWriter(ctx context.Context, w io.Writer, color bool) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case log, ok := <-feed:
			if !ok {
				return
			}
			fmt.Fprintln(w, formatLog(log, color))
		case <-ctx.Done():
			return
		}
	}
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorBlue   = "\033[34m"
)

func formatLog(log Log, color bool) string {
	var b strings.Builder

	var tag, c string
	switch log.Level {
	case LevelError:
		tag, c = "[ERROR] ", colorRed
	case LevelWarning:
		tag, c = "[WARNING] ", colorYellow
	case LevelInfo:
		tag, c = "[INFO] ", colorGreen
	case LevelDebug:
		tag, c = "[DEBUG] ", colorBlue
	}
	if color && tag != "" {
		b.WriteString(c + tag + colorReset)
	} else {
		b.WriteString(tag)
	}

	if log.Client != "" {
		b.WriteString(log.Client + ": ")
	}
	if log.Src != "" {
		b.WriteString(strings.ToUpper(log.Src[:1]) + log.Src[1:] + ": ")
	}

	b.WriteString(log.Msg)
	return b.String()
}

func (l *Logger) newEvent(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMicro(time.Now().UnixMicro()),
		logger: l,
	}
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return l.newEvent(LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return l.newEvent(LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return l.newEvent(LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return l.newEvent(LevelDebug)
}

// Level starts a new message with the given level.
func (l *Logger) Level(level Level) *Event {
	return l.newEvent(level)
}
