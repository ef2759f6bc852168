// Package convlog writes conversation transcripts as NDJSON, one file per
// owner and session.
package convlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/prdesk/internal/domain"
)

// Config controls conversation logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one NDJSON line.
type Event struct {
	Timestamp  string         `json:"ts"`
	OwnerID    string         `json:"owner_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`

	release bool
}

// Logger records conversation events.
type Logger interface {
	Log(ev Event)
	LogTurn(ownerID, sessionID string, turn domain.Turn)
	CloseSession(ownerID, sessionID string)
	Close() error
}

// New returns a file-backed logger, or a no-op logger when disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewFileLogger(cfg, logger)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Log(Event) {}

func (Noop) LogTurn(string, string, domain.Turn) {}

func (Noop) CloseSession(string, string) {}

func (Noop) Close() error { return nil }

// FileLogger appends events from a bounded queue on a background goroutine.
// A full queue drops events rather than blocking the conversation.
type FileLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool

	filesMu sync.Mutex
	files   map[string]*os.File
}

// NewFileLogger creates the log directory and starts the writer.
func NewFileLogger(cfg Config, logger *slog.Logger) (*FileLogger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &FileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	go l.run()
	return l, nil
}

// Log enqueues ev. Content is derived from ContentRaw when empty.
func (l *FileLogger) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"owner_id", ev.OwnerID,
			"session_id", ev.SessionID,
			"event_type", ev.EventType,
		)
	}
}

// LogTurn records a session turn.
func (l *FileLogger) LogTurn(ownerID, sessionID string, turn domain.Turn) {
	l.Log(turnEvent(ownerID, sessionID, turn))
}

// CloseSession releases the session's file once the events queued before it
// are written. A later event for the session reopens the file.
func (l *FileLogger) CloseSession(ownerID, sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue <- Event{OwnerID: ownerID, SessionID: sessionID, release: true}
}

// OpenFiles returns the number of log files currently held open.
func (l *FileLogger) OpenFiles() int {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	return len(l.files)
}

// Close drains the queue and closes every open file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	var errs []error
	for path, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	clear(l.files)
	return errors.Join(errs...)
}

func (l *FileLogger) run() {
	defer close(l.done)
	for ev := range l.queue {
		if ev.release {
			l.release(l.sessionPath(ev))
			continue
		}
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		l.write(l.sessionPath(ev), line)
		if l.cfg.GlobalEnabled && l.cfg.GlobalPath != "" {
			l.write(l.cfg.GlobalPath, line)
		}
	}
}

func (l *FileLogger) release(path string) {
	l.filesMu.Lock()
	f, ok := l.files[path]
	delete(l.files, path)
	l.filesMu.Unlock()
	if !ok {
		return
	}
	if err := f.Close(); err != nil {
		l.logger.Warn("Failed to close conversation log", "path", path, "error", err)
	}
}

func (l *FileLogger) write(path string, line []byte) {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	f, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			l.logger.Warn("Failed to create conversation log dir", "path", path, "error", err)
			return
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			l.logger.Warn("Failed to open conversation log", "path", path, "error", err)
			return
		}
		l.files[path] = f
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "path", path, "error", err)
	}
}

func (l *FileLogger) sessionPath(ev Event) string {
	owner := safeName(ev.OwnerID, "anonymous")
	session := safeName(ev.SessionID, "unknown")
	return filepath.Join(l.cfg.Dir, owner, session+".ndjson")
}

func turnEvent(ownerID, sessionID string, turn domain.Turn) Event {
	direction := "inbound"
	if turn.Type == domain.TurnUser {
		direction = "outbound"
	}
	at := turn.At
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
		OwnerID:    ownerID,
		SessionID:  sessionID,
		Channel:    "session",
		Direction:  direction,
		EventType:  "turn_" + string(turn.Type),
		ContentRaw: turn.Content,
		Content:    cleanForReadability(turn.Content),
	}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func safeName(s, fallback string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	if s == "" {
		return fallback
	}
	return s
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

// cleanForReadability strips terminal escapes and control characters.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, s)
}

var (
	_ Logger = (*FileLogger)(nil)
	_ Logger = Noop{}
)
