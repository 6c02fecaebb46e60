package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gzhole/bashguard/internal/normalize"
	"github.com/gzhole/bashguard/internal/shell"
)

// Model is an immutable, validated and ordered rule set. It is safe for
// concurrent use.
type Model struct {
	rules         []*CompiledRule
	defaultAction Decision
	logDecisions  bool
	maxDepth      int
	fingerprint   string
}

// Load validates rules and settings and builds a Model. Rules are ranked
// by priority (highest first), then specificity (highest first), then
// definition order. Every problem is reported in a single *ConfigError.
func Load(rules []Rule, settings Settings) (*Model, error) {
	errs := &ConfigError{}
	m := &Model{
		defaultAction: DecisionAsk,
		logDecisions:  settings.LogDecisions,
		maxDepth:      settings.MaxDepth,
	}

	if settings.DefaultAction != "" {
		d, err := ParseDecision(settings.DefaultAction)
		if err != nil {
			errs.add("settings: default_action: %v", err)
		}
		m.defaultAction = d
	}
	if settings.MaxDepth < 0 {
		errs.add("settings: max_depth must not be negative")
	}
	if settings.MaxDepth > shell.MaxDepthLimit {
		errs.add("settings: max_depth must not exceed %d", shell.MaxDepthLimit)
	}

	seen := make(map[string]bool)
	for i, rule := range rules {
		label := ruleLabel(rule, i)
		if rule.ID != "" {
			if seen[rule.ID] {
				errs.add("%s: duplicate rule id", label)
			}
			seen[rule.ID] = true
		}
		cr := compileRule(rule, label, errs)
		cr.index = i
		if cr.ID == "" {
			cr.ID = fmt.Sprintf("rule-%d", i+1)
		}
		m.rules = append(m.rules, cr)
	}

	if err := errs.orNil(); err != nil {
		return nil, err
	}

	sort.SliceStable(m.rules, func(i, j int) bool {
		a, b := m.rules[i], m.rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Specificity != b.Specificity {
			return a.Specificity > b.Specificity
		}
		return a.index < b.index
	})

	fp, err := fingerprint(rules, m.defaultAction, m.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting policy: %w", err)
	}
	m.fingerprint = fp
	return m, nil
}

// fingerprint covers everything that can change a verdict: the rules and
// the settings that apply when none match or when nesting runs too deep.
func fingerprint(rules []Rule, def Decision, maxDepth int) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	settings := struct {
		DefaultAction Decision `json:"default_action"`
		MaxDepth      int      `json:"max_depth"`
	}{def, maxDepth}
	if err := enc.Encode(settings); err != nil {
		return "", err
	}
	for _, r := range rules {
		if err := enc.Encode(r); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Match returns the highest-ranked rule matching inv.
func (m *Model) Match(inv *normalize.Invocation, env Env) (*CompiledRule, bool) {
	for _, r := range m.rules {
		if r.Matches(inv, env) {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the rules in match order.
func (m *Model) Rules() []*CompiledRule {
	out := make([]*CompiledRule, len(m.rules))
	copy(out, m.rules)
	return out
}

// DefaultAction is applied to invocations no rule matches.
func (m *Model) DefaultAction() Decision { return m.defaultAction }

// LogDecisions reports whether the workspace asked for decision logging.
func (m *Model) LogDecisions() bool { return m.logDecisions }

// MaxDepth is the nesting bound requested by the configuration, or 0 for
// the parser default.
func (m *Model) MaxDepth() int { return m.maxDepth }

// Fingerprint identifies the rule set and verdict-affecting settings;
// equal configurations share it.
func (m *Model) Fingerprint() string { return m.fingerprint }
