package cli

import (
	"context"
	"sync"
	"time"

	"github.com/gzhole/bashguard/internal/config"
	"github.com/gzhole/bashguard/internal/engine"
	"github.com/gzhole/bashguard/internal/logger"
	"github.com/gzhole/bashguard/internal/policy"
	"github.com/gzhole/bashguard/internal/session"
	"github.com/gzhole/bashguard/internal/store"
)

// app wires the engine to the workspace policy, the shared session state
// and the decision log for one command invocation.
type app struct {
	cfg       config.Config
	loader    policy.Loader
	policy    *policy.Store
	engine    *engine.Engine
	state     *store.Store // nil when the state database is unavailable
	decisions *logger.SessionLogger
	restored  sync.Map
}

func openApp(c config.Config, persist bool) (*app, error) {
	loader := policy.Loader{ConfigDir: c.ConfigDir, ProfilesDir: c.ProfilesDir}
	m, _, err := loader.Load()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       c,
		loader:    loader,
		policy:    policy.NewStore(m),
		decisions: logger.New(c.LogDir),
	}
	var opts []engine.Option
	if c.MaxDepth > 0 {
		opts = append(opts, engine.WithMaxDepth(c.MaxDepth))
	}
	a.engine = engine.New(a.policy, session.NewCache(), opts...)

	if persist && c.StateDB != "" {
		st, err := store.Open(c.StateDB)
		if err != nil {
			diag.Warn("session state unavailable, approvals will not persist", "path", c.StateDB, "err", err)
		} else {
			a.state = st
			a.pruneState()
		}
	}
	if m.DefaultAction() == policy.DecisionAllow {
		diag.Warn("default_action is allow: commands no rule matches run without confirmation")
	}
	diag.Debug("policy loaded", "rules", len(m.Rules()), "default", m.DefaultAction(), "fingerprint", m.Fingerprint())
	return a, nil
}

// stateRetention bounds how long verdicts are kept for PostToolUse
// confirmation.
const stateRetention = 7 * 24 * time.Hour

func (a *app) pruneState() {
	n, err := a.state.Prune(context.Background(), time.Now().Add(-stateRetention))
	if err != nil {
		diag.Warn("pruning session state", "err", err)
		return
	}
	if n > 0 {
		diag.Debug("pruned session state", "verdicts", n)
	}
}

func (a *app) close() {
	if a.state != nil {
		_ = a.state.Close()
	}
}

// prepare restores a session's persisted approvals the first time the
// session is seen.
func (a *app) prepare(ctx context.Context, sessionID string) {
	if a.state == nil {
		return
	}
	if _, seen := a.restored.LoadOrStore(sessionID, true); seen {
		return
	}
	approvals, err := a.state.Load(ctx, sessionID)
	if err != nil {
		diag.Warn("loading session approvals", "session", sessionID, "err", err)
		return
	}
	a.engine.Cache().Context(sessionID).Restore(approvals...)
}

// workingDir is where a command runs: the directory the agent reported, or
// the workspace when it reported none.
func (a *app) workingDir(dir string) string {
	if dir == "" {
		return a.cfg.Workspace
	}
	return dir
}

func (a *app) evaluate(ctx context.Context, req engine.Request) (engine.Verdict, error) {
	req.WorkingDir = a.workingDir(req.WorkingDir)
	a.prepare(ctx, req.SessionID)
	v, err := a.engine.Evaluate(ctx, req)
	if err != nil {
		return v, err
	}

	if a.state != nil {
		rec := session.VerdictRecord{
			RequestID:   v.RequestID,
			Command:     req.Command,
			WorkingDir:  req.WorkingDir,
			Decision:    v.Decision,
			RuleID:      v.RuleID,
			Fingerprint: v.Fingerprint,
			At:          time.Now(),
		}
		if err := a.state.RecordVerdict(ctx, req.SessionID, rec); err != nil {
			diag.Warn("recording verdict", "session", req.SessionID, "err", err)
		}
	}
	if a.logDecisions() {
		if err := a.decisions.Log(logger.NewEvent(req, v)); err != nil {
			diag.Warn("writing decision log", "dir", a.decisions.Dir(), "err", err)
		}
	}
	diag.Debug("verdict", "session", req.SessionID, "decision", v.Decision, "rule", v.RuleID, "stage", v.Stage)
	return v, nil
}

func (a *app) logDecisions() bool {
	if a.cfg.LogDecisions {
		return true
	}
	m, err := a.policy.Current()
	return err == nil && m.LogDecisions()
}

// approve records an explicit user confirmation of command run in
// workingDir. A command whose last verdict in the session was Deny, in this
// process or a previous one, is refused.
func (a *app) approve(ctx context.Context, sessionID, command, workingDir string) (session.Approval, error) {
	workingDir = a.workingDir(workingDir)
	a.prepare(ctx, sessionID)
	if a.state != nil {
		last, found, err := a.state.LastVerdict(ctx, sessionID, command, workingDir)
		if err != nil {
			return session.Approval{}, err
		}
		if found && last.Decision == policy.DecisionDeny {
			return session.Approval{}, engine.ErrDenied
		}
	}
	ap, err := a.engine.Approve(sessionID, command, workingDir)
	if err != nil {
		return ap, err
	}
	a.persist(ctx, sessionID, ap)
	return ap, nil
}

// confirm approves command only if the session's last verdict for it in
// workingDir, in this process or a previous one, was Ask.
func (a *app) confirm(ctx context.Context, sessionID, command, workingDir string) (session.Approval, bool, error) {
	workingDir = a.workingDir(workingDir)
	a.prepare(ctx, sessionID)
	ap, ok, err := a.engine.Confirm(sessionID, command, workingDir)
	if err != nil || ok {
		if ok {
			a.persist(ctx, sessionID, ap)
		}
		return ap, ok, err
	}
	if a.state == nil {
		return session.Approval{}, false, nil
	}
	last, found, err := a.state.LastVerdict(ctx, sessionID, command, workingDir)
	if err != nil {
		return session.Approval{}, false, err
	}
	if !found || last.Decision != policy.DecisionAsk {
		return session.Approval{}, false, nil
	}
	ap, err = a.approve(ctx, sessionID, command, workingDir)
	if err != nil {
		return ap, false, err
	}
	return ap, true, nil
}

func (a *app) persist(ctx context.Context, sessionID string, ap session.Approval) {
	if a.state == nil {
		return
	}
	if err := a.state.SaveApproval(ctx, sessionID, ap); err != nil {
		diag.Warn("saving approval", "session", sessionID, "err", err)
	}
}

func (a *app) end(ctx context.Context, sessionID string) {
	a.engine.End(sessionID)
	a.restored.Delete(sessionID)
	if a.state != nil {
		if err := a.state.EndSession(ctx, sessionID); err != nil {
			diag.Warn("ending session", "session", sessionID, "err", err)
		}
	}
}
