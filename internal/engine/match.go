package engine

import (
	"fmt"

	"github.com/gzhole/bashguard/internal/normalize"
	"github.com/gzhole/bashguard/internal/policy"
)

const (
	reasonDefaultAsk  = "no rule matched, defaulting to confirm"
	reasonDefaultDeny = "no rule matched, denied by default policy"
)

// Step is the decision taken for one invocation.
type Step struct {
	Program   string           `json:"program"`
	Command   string           `json:"command"`
	Origin    normalize.Origin `json:"origin"`
	Decision  policy.Decision  `json:"decision"`
	Reason    string           `json:"reason,omitempty"`
	RuleID    string           `json:"rule_id,omitempty"`
	Ambiguous bool             `json:"ambiguous,omitempty"`
	Depth     int              `json:"depth,omitempty"`
}

// Match decides every invocation against m and reduces the results to one
// verdict: the most restrictive decision wins and the first invocation at
// that level supplies the reason. Match has no side effects.
func Match(invs []normalize.Invocation, m *policy.Model, env policy.Env) Verdict {
	v := Verdict{Decision: policy.DecisionAllow, Stage: StageVerdict}

	first, extra := -1, 0
	for i := range invs {
		inv := &invs[i]
		if !inv.Executes() {
			continue
		}
		step := decide(inv, m, env)
		v.Invocations = append(v.Invocations, step)

		switch {
		case first < 0 || step.Decision.Severity() > v.Decision.Severity():
			v.Decision = step.Decision
			first, extra = len(v.Invocations)-1, 0
		case step.Decision == v.Decision:
			extra++
		}
	}
	if first < 0 {
		return v
	}

	offender := v.Invocations[first]
	v.RuleID = offender.RuleID
	if v.Decision == policy.DecisionAllow {
		return v
	}
	v.Reason = offender.Reason
	if extra > 0 {
		v.Reason += fmt.Sprintf(" (and %d more)", extra)
	}
	return v
}

func decide(inv *normalize.Invocation, m *policy.Model, env policy.Env) Step {
	step := Step{
		Program:   programOf(inv),
		Command:   inv.Command(),
		Origin:    inv.Origin,
		Ambiguous: inv.Ambiguous,
		Depth:     inv.Depth,
	}

	exact := false
	if r, ok := m.Match(inv, env); ok {
		step.Decision = r.Action
		step.Reason = r.Reason(inv)
		step.RuleID = r.ID
		exact = r.ExactProgram
	} else {
		step.Decision = m.DefaultAction()
		switch step.Decision {
		case policy.DecisionAsk:
			step.Reason = reasonDefaultAsk
		case policy.DecisionDeny:
			step.Reason = reasonDefaultDeny
		}
	}

	// Only an exact rule may allow, and never an ambiguous invocation.
	if step.Decision == policy.DecisionAllow && (inv.Ambiguous || (step.RuleID != "" && !exact)) {
		step.Decision = policy.DecisionAsk
		step.Reason = ambiguityReason(inv, step)
	}
	return step
}

func ambiguityReason(inv *normalize.Invocation, step Step) string {
	if inv.Ambiguous && len(inv.AmbiguityReasons) > 0 {
		return fmt.Sprintf("ambiguous invocation of %s requires confirmation: %s", step.Program, inv.AmbiguityReasons[0])
	}
	if inv.Ambiguous {
		return fmt.Sprintf("ambiguous invocation of %s requires confirmation", step.Program)
	}
	return fmt.Sprintf("ambiguous invocation of %s requires confirmation: rule %s does not name the program exactly", step.Program, step.RuleID)
}

func programOf(inv *normalize.Invocation) string {
	if inv.Program != "" {
		return inv.Program
	}
	if inv.ProgramPath != "" {
		return inv.ProgramPath
	}
	return "redirection"
}
