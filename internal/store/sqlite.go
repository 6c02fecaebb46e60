// Package store persists session approvals and verdicts in SQLite so that
// separate check processes of one agent session share them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gzhole/bashguard/internal/policy"
	"github.com/gzhole/bashguard/internal/session"
)

type Store struct {
	db *sql.DB
}

var _ session.Persister = (*Store)(nil)

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// schemaVersion is stored in PRAGMA user_version. Session state is
// short-lived, so an older schema is dropped rather than converted.
const schemaVersion = 2

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}

	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("sqlite migrate: read version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	stmts := []string{
		`DROP TABLE IF EXISTS approvals;`,
		`DROP TABLE IF EXISTS verdicts;`,
		`CREATE TABLE approvals (
			session_id TEXT NOT NULL,
			command TEXT NOT NULL,
			working_dir TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL,
			ts_unix_ns INTEGER NOT NULL,
			PRIMARY KEY(session_id, command, working_dir)
		);`,
		`CREATE TABLE verdicts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT,
			session_id TEXT NOT NULL,
			command TEXT NOT NULL,
			working_dir TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL,
			rule_id TEXT,
			fingerprint TEXT,
			ts_unix_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX idx_verdicts_session_command ON verdicts(session_id, command, working_dir, id);`,
		fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

// Load returns every approval recorded for sessionID.
func (s *Store) Load(ctx context.Context, sessionID string) ([]session.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command, working_dir, fingerprint, ts_unix_ns FROM approvals
		WHERE session_id = ? ORDER BY ts_unix_ns;`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var out []session.Approval
	for rows.Next() {
		var a session.Approval
		var ts int64
		if err := rows.Scan(&a.Command, &a.WorkingDir, &a.Fingerprint, &ts); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.At = time.Unix(0, ts).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveApproval records a, replacing any earlier approval of the same
// command in the same working directory of the session.
func (s *Store) SaveApproval(ctx context.Context, sessionID string, a session.Approval) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals(session_id, command, working_dir, fingerprint, ts_unix_ns)
		VALUES(?,?,?,?,?)
		ON CONFLICT(session_id, command, working_dir) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			ts_unix_ns = excluded.ts_unix_ns;`,
		sessionID, a.Command, a.WorkingDir, a.Fingerprint, a.At.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	return nil
}

// RecordVerdict appends rec to the session's verdict history.
func (s *Store) RecordVerdict(ctx context.Context, sessionID string, rec session.VerdictRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verdicts(request_id, session_id, command, working_dir, decision, rule_id, fingerprint, ts_unix_ns)
		VALUES(?,?,?,?,?,?,?,?);`,
		nullable(rec.RequestID), sessionID, rec.Command, rec.WorkingDir, string(rec.Decision),
		nullable(rec.RuleID), nullable(rec.Fingerprint), rec.At.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("record verdict: %w", err)
	}
	return nil
}

// LastVerdict returns the most recent verdict for command, run in
// workingDir, in the session.
func (s *Store) LastVerdict(ctx context.Context, sessionID, command, workingDir string) (session.VerdictRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, decision, rule_id, fingerprint, ts_unix_ns FROM verdicts
		WHERE session_id = ? AND command = ? AND working_dir = ?
		ORDER BY id DESC LIMIT 1;`, sessionID, command, workingDir)

	var requestID, ruleID, fingerprint sql.NullString
	var decision string
	var ts int64
	if err := row.Scan(&requestID, &decision, &ruleID, &fingerprint, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.VerdictRecord{}, false, nil
		}
		return session.VerdictRecord{}, false, fmt.Errorf("query verdict: %w", err)
	}
	return session.VerdictRecord{
		RequestID:   requestID.String,
		Command:     command,
		WorkingDir:  workingDir,
		Decision:    policy.Decision(decision),
		RuleID:      ruleID.String,
		Fingerprint: fingerprint.String,
		At:          time.Unix(0, ts).UTC(),
	}, true, nil
}

// EndSession deletes everything stored for sessionID.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	for _, stmt := range []string{
		`DELETE FROM approvals WHERE session_id = ?;`,
		`DELETE FROM verdicts WHERE session_id = ?;`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt, sessionID); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
	}
	return nil
}

// Prune deletes verdicts older than cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM verdicts WHERE ts_unix_ns < ?;`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune verdicts: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
