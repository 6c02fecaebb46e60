// Package logger writes the per-session decision log and sets up the
// diagnostics logger.
package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gzhole/bashguard/internal/engine"
	"github.com/gzhole/bashguard/internal/redact"
)

const defaultMaxLogBytes = 5 << 20

const logExt = ".jsonl"

// DecisionEvent is one line of a session log.
type DecisionEvent struct {
	Timestamp   string        `json:"timestamp"`
	RequestID   string        `json:"request_id"`
	SessionID   string        `json:"session_id"`
	Command     string        `json:"command"`
	Cwd         string        `json:"cwd,omitempty"`
	Decision    string        `json:"decision"`
	Reason      string        `json:"reason,omitempty"`
	RuleID      string        `json:"rule_id,omitempty"`
	Stage       string        `json:"stage,omitempty"`
	Cached      bool          `json:"cached,omitempty"`
	Invocations []engine.Step `json:"invocations,omitempty"`
	UserAction  string        `json:"user_action,omitempty"`
}

// NewEvent builds the log line for a verdict.
func NewEvent(req engine.Request, v engine.Verdict) DecisionEvent {
	return DecisionEvent{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		RequestID:   v.RequestID,
		SessionID:   req.SessionID,
		Command:     req.Command,
		Cwd:         req.WorkingDir,
		Decision:    string(v.Decision),
		Reason:      v.Reason,
		RuleID:      v.RuleID,
		Stage:       string(v.Stage),
		Cached:      v.Cached,
		Invocations: v.Invocations,
	}
}

// SessionLogger appends decision events to one JSONL file per session.
type SessionLogger struct {
	dir      string
	maxBytes int64
	mu       sync.Mutex
}

func New(dir string) *SessionLogger {
	return &SessionLogger{dir: dir, maxBytes: defaultMaxLogBytes}
}

// Dir returns the log directory.
func (l *SessionLogger) Dir() string { return l.dir }

// Path returns the log file for a session.
func (l *SessionLogger) Path(sessionID string) string {
	return filepath.Join(l.dir, SanitizeSessionID(sessionID)+logExt)
}

// Log redacts and appends event. A file at the size limit is rotated to
// <name>.1 first.
func (l *SessionLogger) Log(event DecisionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Command = redact.Redact(event.Command)
	if event.Reason != "" {
		event.Reason = redact.Redact(event.Reason)
	}
	for i := range event.Invocations {
		event.Invocations[i].Command = redact.Redact(event.Invocations[i].Command)
		event.Invocations[i].Reason = redact.Redact(event.Invocations[i].Reason)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := l.Path(event.SessionID)
	if err := l.rotate(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (l *SessionLogger) rotate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Size() < l.maxBytes {
		return nil
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("rotate %s: %w", path, err)
	}
	return nil
}

// SanitizeSessionID maps a session id to a safe file name stem: letters,
// digits, '-' and '_' are kept, everything else becomes '_'.
func SanitizeSessionID(id string) string {
	if id == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ReadSession returns the events logged for a session, oldest first.
// Malformed lines are skipped; a missing log is empty.
func (l *SessionLogger) ReadSession(sessionID string) ([]DecisionEvent, error) {
	return readFile(l.Path(sessionID))
}

// ReadAll returns the events of every session log, ordered by timestamp.
func (l *SessionLogger) ReadAll() ([]DecisionEvent, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*"+logExt))
	if err != nil {
		return nil, err
	}
	var all []DecisionEvent
	for _, m := range matches {
		events, err := readFile(m)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return all, nil
}

func readFile(path string) ([]DecisionEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []DecisionEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event DecisionEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue // skip malformed lines
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
