// Package engine evaluates shell commands against the current policy.
package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gzhole/bashguard/internal/normalize"
	"github.com/gzhole/bashguard/internal/policy"
	"github.com/gzhole/bashguard/internal/session"
	"github.com/gzhole/bashguard/internal/shell"
)

// Stage is the last state an evaluation reached.
type Stage string

const (
	StageParseFailed Stage = "parse-failed"
	StageVerdict     Stage = "verdict"
	StageCached      Stage = "cached"
)

// ErrDenied is returned when approving a command the policy denies.
var ErrDenied = errors.New("command is denied by policy and cannot be approved")

const (
	reasonUnparsable = "unparsable command: "
	reasonApproved   = "approved earlier in this session"
)

// Request is one command to evaluate.
type Request struct {
	ID         string // assigned when empty
	SessionID  string
	Command    string
	WorkingDir string
}

// Verdict is the single decision for a request.
type Verdict struct {
	RequestID   string          `json:"request_id"`
	Decision    policy.Decision `json:"decision"`
	Reason      string          `json:"reason,omitempty"`
	RuleID      string          `json:"rule_id,omitempty"`
	Stage       Stage           `json:"stage"`
	Cached      bool            `json:"cached,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Invocations []Step          `json:"invocations,omitempty"`
}

// Engine evaluates requests. It is safe for concurrent use.
type Engine struct {
	store    *policy.Store
	cache    *session.Cache
	maxDepth int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth overrides the nesting bound of the policy settings.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// New creates an engine reading policy snapshots from store. A nil cache
// gives the engine a private one.
func New(store *policy.Store, cache *session.Cache, opts ...Option) *Engine {
	if cache == nil {
		cache = session.NewCache()
	}
	e := &Engine{store: store, cache: cache}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache returns the session cache.
func (e *Engine) Cache() *session.Cache { return e.cache }

// Evaluate decides req. It returns an error, and no verdict, only when no
// valid policy is loaded; every problem with the command itself is a
// verdict.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	m, err := e.store.Current()
	if err != nil {
		return Verdict{}, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	sctx := e.cache.Context(req.SessionID)
	fp := e.generation(m)
	hit, sameGen := sctx.Approved(req.Command, req.WorkingDir, fp)

	var v Verdict
	if hit && sameGen {
		v = Verdict{Decision: policy.DecisionAllow, Reason: reasonApproved, Stage: StageCached, Cached: true}
	} else {
		v = e.evaluate(req, m)
		// An approval from an older policy only stands in for a confirmation.
		if hit && v.Decision == policy.DecisionAsk {
			v.Decision = policy.DecisionAllow
			v.Reason = reasonApproved
			v.Cached = true
		}
	}
	v.RequestID = req.ID
	v.Fingerprint = fp

	sctx.Record(session.VerdictRecord{
		RequestID:   req.ID,
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Decision:    v.Decision,
		RuleID:      v.RuleID,
		Fingerprint: fp,
		At:          time.Now(),
	})
	return v, nil
}

// generation identifies the policy a verdict was reached under, including
// a nesting bound that overrides the configured one.
func (e *Engine) generation(m *policy.Model) string {
	if e.maxDepth > 0 {
		return m.Fingerprint() + ":" + strconv.Itoa(e.maxDepth)
	}
	return m.Fingerprint()
}

func (e *Engine) evaluate(req Request, m *policy.Model) Verdict {
	depth := e.maxDepth
	if depth <= 0 {
		depth = m.MaxDepth()
	}
	parser := shell.NewParser(depth)

	tree, err := parser.Parse(req.Command)
	if err != nil {
		return unparsable(err)
	}
	invs, err := normalize.New(parser).Normalize(tree)
	if err != nil {
		return unparsable(err)
	}
	return Match(invs, m, policy.Env{WorkingDir: req.WorkingDir})
}

func unparsable(err error) Verdict {
	return Verdict{
		Decision: policy.DecisionDeny,
		Reason:   reasonUnparsable + err.Error(),
		Stage:    StageParseFailed,
	}
}

// Approve records that the user confirmed command, run in workingDir, in
// the session under the current policy. A command is refused when the
// policy denies it there or when its last verdict in the session was Deny.
func (e *Engine) Approve(sessionID, command, workingDir string) (session.Approval, error) {
	m, err := e.store.Current()
	if err != nil {
		return session.Approval{}, err
	}
	sctx := e.cache.Context(sessionID)
	if last, ok := sctx.LastVerdict(command, workingDir); ok && last.Decision == policy.DecisionDeny {
		return session.Approval{}, ErrDenied
	}
	v := e.evaluate(Request{SessionID: sessionID, Command: command, WorkingDir: workingDir}, m)
	if v.Decision == policy.DecisionDeny {
		return session.Approval{}, ErrDenied
	}
	return sctx.Approve(command, workingDir, e.generation(m)), nil
}

// Confirm approves command only if its last verdict in the session, in
// workingDir, was Ask. It reports whether an approval was recorded.
func (e *Engine) Confirm(sessionID, command, workingDir string) (session.Approval, bool, error) {
	last, ok := e.cache.Context(sessionID).LastVerdict(command, workingDir)
	if !ok || last.Decision != policy.DecisionAsk {
		return session.Approval{}, false, nil
	}
	a, err := e.Approve(sessionID, command, workingDir)
	if err != nil {
		return session.Approval{}, false, err
	}
	return a, true, nil
}

// End discards a session's approvals.
func (e *Engine) End(sessionID string) {
	e.cache.End(sessionID)
}
