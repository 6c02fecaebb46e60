package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/gzhole/bashguard/internal/policy"
	"github.com/gzhole/bashguard/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestApprovals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveApproval(ctx, "sess", session.Approval{Command: "make test", Fingerprint: "fp1"}); err != nil {
		t.Fatalf("SaveApproval: %v", err)
	}
	if err := s.SaveApproval(ctx, "sess", session.Approval{Command: "make test", Fingerprint: "fp2"}); err != nil {
		t.Fatalf("SaveApproval: %v", err)
	}
	if err := s.SaveApproval(ctx, "other", session.Approval{Command: "rm x", Fingerprint: "fp1"}); err != nil {
		t.Fatalf("SaveApproval: %v", err)
	}

	got, err := s.Load(ctx, "sess")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Command != "make test" || got[0].Fingerprint != "fp2" {
		t.Fatalf("unexpected approvals: %+v", got)
	}
	if got[0].At.IsZero() {
		t.Error("approval time not stored")
	}

	none, err := s.Load(ctx, "missing")
	if err != nil || len(none) != 0 {
		t.Fatalf("Load(missing) = %v, %v", none, err)
	}
}

func TestVerdicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LastVerdict(ctx, "sess", "ls", ""); err != nil || ok {
		t.Fatalf("LastVerdict on empty store = %v, %v", ok, err)
	}

	recs := []session.VerdictRecord{
		{RequestID: "r1", Command: "ls", Decision: policy.DecisionAsk},
		{RequestID: "r2", Command: "ls", Decision: policy.DecisionAllow, RuleID: "safe/inspect", Fingerprint: "fp"},
		{RequestID: "r3", Command: "pwd", Decision: policy.DecisionDeny},
	}
	for _, rec := range recs {
		if err := s.RecordVerdict(ctx, "sess", rec); err != nil {
			t.Fatalf("RecordVerdict: %v", err)
		}
	}

	last, ok, err := s.LastVerdict(ctx, "sess", "ls", "")
	if err != nil || !ok {
		t.Fatalf("LastVerdict = %v, %v", ok, err)
	}
	if last.RequestID != "r2" || last.Decision != policy.DecisionAllow || last.RuleID != "safe/inspect" || last.Fingerprint != "fp" {
		t.Errorf("unexpected verdict: %+v", last)
	}

	first, ok, err := s.LastVerdict(ctx, "sess", "pwd", "")
	if err != nil || !ok || first.RuleID != "" {
		t.Errorf("LastVerdict(pwd) = %+v, %v, %v", first, ok, err)
	}
}

func TestEndSessionAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	_ = s.RecordVerdict(ctx, "a", session.VerdictRecord{Command: "ls", Decision: policy.DecisionAsk, At: old})
	_ = s.RecordVerdict(ctx, "a", session.VerdictRecord{Command: "ls", Decision: policy.DecisionAsk})
	_ = s.SaveApproval(ctx, "b", session.Approval{Command: "ls", Fingerprint: "fp"})

	n, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}

	if err := s.EndSession(ctx, "b"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if got, _ := s.Load(ctx, "b"); len(got) != 0 {
		t.Errorf("approvals survived EndSession: %+v", got)
	}
	if _, ok, _ := s.LastVerdict(ctx, "a", "ls", ""); !ok {
		t.Error("session a was affected by ending session b")
	}
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SaveApproval(context.Background(), "sess", session.Approval{Command: "make", Fingerprint: "fp"}); err != nil {
		t.Fatalf("SaveApproval: %v", err)
	}
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Load(context.Background(), "sess")
	if err != nil || len(got) != 1 {
		t.Fatalf("Load after reopen = %v, %v", got, err)
	}
}

func TestWorkingDirScopesState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.SaveApproval(ctx, "sess", session.Approval{Command: "rm -rf build", WorkingDir: "/home/me", Fingerprint: "fp"})
	_ = s.SaveApproval(ctx, "sess", session.Approval{Command: "rm -rf build", WorkingDir: "/tmp", Fingerprint: "fp"})
	got, err := s.Load(ctx, "sess")
	if err != nil || len(got) != 2 {
		t.Fatalf("Load = %+v, %v", got, err)
	}
	for _, a := range got {
		if a.WorkingDir != "/home/me" && a.WorkingDir != "/tmp" {
			t.Errorf("unexpected working dir %q", a.WorkingDir)
		}
	}

	_ = s.RecordVerdict(ctx, "sess", session.VerdictRecord{Command: "rm -rf build", WorkingDir: "/prod/app", Decision: policy.DecisionDeny})
	_ = s.RecordVerdict(ctx, "sess", session.VerdictRecord{Command: "rm -rf build", WorkingDir: "/home/me", Decision: policy.DecisionAsk})

	last, ok, err := s.LastVerdict(ctx, "sess", "rm -rf build", "/prod/app")
	if err != nil || !ok || last.Decision != policy.DecisionDeny || last.WorkingDir != "/prod/app" {
		t.Errorf("LastVerdict(/prod/app) = %+v, %v, %v", last, ok, err)
	}
	if _, ok, _ := s.LastVerdict(ctx, "sess", "rm -rf build", ""); ok {
		t.Error("verdict without a working dir must not match one with a working dir")
	}
}

func TestOpen_ReplacesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE approvals (session_id TEXT NOT NULL, command TEXT NOT NULL, fingerprint TEXT NOT NULL, ts_unix_ns INTEGER NOT NULL, PRIMARY KEY(session_id, command));`,
		`INSERT INTO approvals VALUES ('sess', 'rm -rf build', 'fp', 1);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	_ = db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	got, err := s.Load(context.Background(), "sess")
	if err != nil || len(got) != 0 {
		t.Fatalf("approvals without a working dir survived migration: %+v, %v", got, err)
	}
}
