// Package session holds per-session approvals made by the user.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/gzhole/bashguard/internal/policy"
)

// UnknownID is used for requests that carry no session identifier. Its
// partition behaves like any other.
const UnknownID = "unknown-session"

// Approval records that the user confirmed a command in a working
// directory.
type Approval struct {
	Command     string
	WorkingDir  string
	Fingerprint string // policy generation at the time of approval
	At          time.Time
}

func (a Approval) key() entryKey { return entryKey{a.Command, a.WorkingDir} }

// entryKey identifies a command as evaluated: rules may depend on the
// working directory, so the same text in another directory is another
// command.
type entryKey struct {
	command    string
	workingDir string
}

// VerdictRecord is one evaluated command in a session's history.
type VerdictRecord struct {
	RequestID   string
	Command     string
	WorkingDir  string
	Decision    policy.Decision
	RuleID      string
	Fingerprint string
	At          time.Time
}

// Persister stores session state outside the process. The cache never
// calls it; callers load and save at request boundaries.
type Persister interface {
	Load(ctx context.Context, sessionID string) ([]Approval, error)
	SaveApproval(ctx context.Context, sessionID string, a Approval) error
	RecordVerdict(ctx context.Context, sessionID string, rec VerdictRecord) error
	LastVerdict(ctx context.Context, sessionID, command, workingDir string) (VerdictRecord, bool, error)
}

// Cache partitions session state by session id. Sessions never share a
// lock.
type Cache struct {
	parts      sync.Map // id -> *Context
	maxHistory int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{maxHistory: 100}
}

// Context returns the partition for id, creating it on first use.
func (c *Cache) Context(id string) *Context {
	if id == "" {
		id = UnknownID
	}
	if v, ok := c.parts.Load(id); ok {
		return v.(*Context)
	}
	v, _ := c.parts.LoadOrStore(id, newContext(id, c.maxHistory))
	return v.(*Context)
}

// End discards the partition for id.
func (c *Cache) End(id string) {
	c.parts.Delete(id)
}

// Context is one session's state. It is safe for concurrent use.
type Context struct {
	id         string
	maxHistory int

	mu        sync.RWMutex
	approvals map[entryKey]Approval
	history   []VerdictRecord
}

func newContext(id string, maxHistory int) *Context {
	return &Context{
		id:         id,
		maxHistory: maxHistory,
		approvals:  make(map[entryKey]Approval),
	}
}

// ID returns the session id.
func (c *Context) ID() string { return c.id }

// Approved reports whether command was approved verbatim in workingDir in
// this session, and whether that approval was made under the policy
// generation fingerprint.
func (c *Context) Approved(command, workingDir, fingerprint string) (hit, sameGen bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.approvals[entryKey{command, workingDir}]
	if !ok {
		return false, false
	}
	return true, a.Fingerprint == fingerprint
}

// Approve records a user confirmation of command in workingDir.
func (c *Context) Approve(command, workingDir, fingerprint string) Approval {
	a := Approval{Command: command, WorkingDir: workingDir, Fingerprint: fingerprint, At: time.Now()}
	c.Restore(a)
	return a
}

// Restore adds previously persisted approvals. A later approval of the
// same command in the same directory replaces an earlier one.
func (c *Context) Restore(approvals ...Approval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range approvals {
		if prev, ok := c.approvals[a.key()]; ok && prev.At.After(a.At) {
			continue
		}
		c.approvals[a.key()] = a
	}
}

// Record appends rec to the bounded verdict history.
func (c *Context) Record(rec VerdictRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, rec)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
}

// LastVerdict returns the most recent verdict recorded for command in
// workingDir.
func (c *Context) LastVerdict(command, workingDir string) (VerdictRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Command == command && c.history[i].WorkingDir == workingDir {
			return c.history[i], true
		}
	}
	return VerdictRecord{}, false
}
