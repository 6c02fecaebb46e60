package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/gzhole/bashguard/internal/normalize"
)

const (
	MinPriority = 0
	MaxPriority = 1000
)

// Env carries request facts that are not part of the invocation itself.
type Env struct {
	WorkingDir string
}

type predicateKind int

const (
	predProgram predicateKind = iota
	predProgramGlob
	predSubcommands
	predSubcommandsExact
	predArgsAny
	predArgsAll
	predArgsNone
	predArgsPrefix
	predArgsMatch
	predArgsRegex
	predFlagsPresent
	predFlagsAbsent
	predMinArgs
	predMaxArgs
	predRedirectTo
	predPiped
	predPipeFrom
	predDomains
	predWorkingDir
)

// weights feed rule specificity: an exact program outranks a glob, which
// outranks any single argument predicate.
var weights = map[predicateKind]int{
	predProgram:          100,
	predProgramGlob:      50,
	predSubcommands:      10,
	predSubcommandsExact: 15,
}

const defaultWeight = 5

// predicate is one compiled matcher condition.
type predicate struct {
	kind  predicateKind
	strs  []string
	set   map[string]bool
	globs []glob.Glob
	re    *regexp.Regexp
	n     int
	b     bool
}

func (p predicate) weight() int {
	w, ok := weights[p.kind]
	if !ok {
		w = defaultWeight
	}
	if p.kind == predSubcommands || p.kind == predSubcommandsExact {
		return w * len(p.strs)
	}
	return w
}

func (p predicate) match(inv *normalize.Invocation, env Env) bool {
	switch p.kind {
	case predProgram:
		return p.set[inv.Program]
	case predProgramGlob:
		return anyGlob(p.globs, inv.Program)
	case predSubcommands:
		if len(inv.Subcommands) < len(p.strs) {
			return false
		}
		for i, s := range p.strs {
			if inv.Subcommands[i] != s {
				return false
			}
		}
		return true
	case predSubcommandsExact:
		if len(inv.Subcommands) != len(p.strs) {
			return false
		}
		for i, s := range p.strs {
			if inv.Subcommands[i] != s {
				return false
			}
		}
		return true
	case predArgsAny:
		for _, a := range inv.Args {
			if anyGlob(p.globs, a) {
				return true
			}
		}
		return false
	case predArgsAll:
		for _, g := range p.globs {
			found := false
			for _, a := range inv.Args {
				if g.Match(a) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case predArgsNone:
		for _, a := range inv.Args {
			if anyGlob(p.globs, a) {
				return false
			}
		}
		return true
	case predArgsPrefix:
		if len(inv.Args) < len(p.strs) {
			return false
		}
		for i, s := range p.strs {
			if inv.Args[i] != s {
				return false
			}
		}
		return true
	case predArgsMatch:
		return strings.Contains(strings.Join(inv.Args, " "), p.strs[0])
	case predArgsRegex:
		return p.re.MatchString(strings.Join(inv.Args, " "))
	case predFlagsPresent:
		for _, f := range p.strs {
			if !inv.HasFlag(f) {
				return false
			}
		}
		return true
	case predFlagsAbsent:
		for _, f := range p.strs {
			if inv.HasFlag(f) {
				return false
			}
		}
		return true
	case predMinArgs:
		return len(inv.Args) >= p.n
	case predMaxArgs:
		return len(inv.Args) <= p.n
	case predRedirectTo:
		for _, r := range inv.Redirects {
			if r.Writes() && anyGlob(p.globs, r.Target) {
				return true
			}
		}
		return false
	case predPiped:
		return inv.Piped == p.b
	case predPipeFrom:
		return inv.Piped && p.set[inv.PipedFrom]
	case predDomains:
		for _, d := range inv.Domains {
			if anyGlob(p.globs, d) {
				return true
			}
		}
		return false
	case predWorkingDir:
		return env.WorkingDir != "" && anyGlob(p.globs, env.WorkingDir)
	}
	return false
}

func anyGlob(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// CompiledRule is a validated rule ready for matching.
type CompiledRule struct {
	ID          string
	Priority    int
	Action      Decision
	Message     string
	Source      string
	Specificity int
	// ExactProgram is set when the rule names its program exactly. Only
	// such rules may allow an invocation.
	ExactProgram bool

	index int
	preds []predicate
}

// Matches reports whether every predicate of the rule holds.
func (r *CompiledRule) Matches(inv *normalize.Invocation, env Env) bool {
	for _, p := range r.preds {
		if !p.match(inv, env) {
			return false
		}
	}
	return true
}

// Reason renders the rule's message for inv.
func (r *CompiledRule) Reason(inv *normalize.Invocation) string {
	msg := r.Message
	if msg == "" {
		switch r.Action {
		case DecisionDeny:
			msg = "blocked by rule {rule}"
		case DecisionAsk:
			msg = "rule {rule} requires confirmation"
		default:
			return ""
		}
	}
	return strings.NewReplacer(
		"{program}", inv.Program,
		"{args}", strings.Join(inv.Args, " "),
		"{command}", inv.Command(),
		"{rule}", r.ID,
	).Replace(msg)
}

// compileRule validates rule and turns its matcher fields into predicates.
// Problems are recorded in errs under label.
func compileRule(rule Rule, label string, errs *ConfigError) *CompiledRule {
	cr := &CompiledRule{
		ID:       rule.ID,
		Priority: rule.Priority,
		Message:  rule.Message,
		Source:   rule.Source,
	}

	action, err := ParseDecision(rule.Action)
	if err != nil {
		errs.add("%s: %v", label, err)
	}
	cr.Action = action

	if rule.Priority < MinPriority || rule.Priority > MaxPriority {
		errs.add("%s: priority %d out of range %d..%d", label, rule.Priority, MinPriority, MaxPriority)
	}

	compileGlobs := func(field string, patterns []string, separators ...rune) []glob.Glob {
		globs := make([]glob.Glob, 0, len(patterns))
		for _, pattern := range patterns {
			g, err := glob.Compile(pattern, separators...)
			if err != nil {
				errs.add("%s: invalid %s pattern %q: %v", label, field, pattern, err)
				continue
			}
			globs = append(globs, g)
		}
		return globs
	}
	add := func(p predicate) { cr.preds = append(cr.preds, p) }

	if len(rule.Program) > 0 {
		add(predicate{kind: predProgram, strs: rule.Program, set: toSet(rule.Program)})
		cr.ExactProgram = true
	}
	if rule.ProgramGlob != "" {
		add(predicate{kind: predProgramGlob, globs: compileGlobs("program_glob", []string{rule.ProgramGlob})})
	}
	if len(rule.Subcommands) > 0 {
		kind := predSubcommands
		if rule.SubcommandsExact {
			kind = predSubcommandsExact
		}
		add(predicate{kind: kind, strs: rule.Subcommands})
	} else if rule.SubcommandsExact {
		// subcommands_exact with no subcommands means "no subcommand at all"
		add(predicate{kind: predSubcommandsExact})
	}
	if len(rule.ArgsAny) > 0 {
		add(predicate{kind: predArgsAny, globs: compileGlobs("args_any", rule.ArgsAny)})
	}
	if len(rule.ArgsAll) > 0 {
		add(predicate{kind: predArgsAll, globs: compileGlobs("args_all", rule.ArgsAll)})
	}
	if len(rule.ArgsNone) > 0 {
		add(predicate{kind: predArgsNone, globs: compileGlobs("args_none", rule.ArgsNone)})
	}
	if len(rule.ArgsPrefix) > 0 {
		add(predicate{kind: predArgsPrefix, strs: rule.ArgsPrefix})
	}
	if rule.ArgsMatch != "" {
		add(predicate{kind: predArgsMatch, strs: []string{rule.ArgsMatch}})
	}
	if rule.ArgsRegex != "" {
		re, err := regexp.Compile(rule.ArgsRegex)
		if err != nil {
			errs.add("%s: invalid args_regex %q: %v", label, rule.ArgsRegex, err)
		} else {
			add(predicate{kind: predArgsRegex, re: re})
		}
	}
	if len(rule.FlagsPresent) > 0 {
		add(predicate{kind: predFlagsPresent, strs: rule.FlagsPresent})
	}
	if len(rule.FlagsAbsent) > 0 {
		add(predicate{kind: predFlagsAbsent, strs: rule.FlagsAbsent})
	}
	if rule.MinArgs != nil {
		if *rule.MinArgs < 0 {
			errs.add("%s: min_args must not be negative", label)
		}
		add(predicate{kind: predMinArgs, n: *rule.MinArgs})
	}
	if rule.MaxArgs != nil {
		if *rule.MaxArgs < 0 {
			errs.add("%s: max_args must not be negative", label)
		}
		add(predicate{kind: predMaxArgs, n: *rule.MaxArgs})
	}
	if rule.MinArgs != nil && rule.MaxArgs != nil && *rule.MinArgs > *rule.MaxArgs {
		errs.add("%s: min_args %d exceeds max_args %d", label, *rule.MinArgs, *rule.MaxArgs)
	}
	if len(rule.RedirectTo) > 0 {
		add(predicate{kind: predRedirectTo, globs: compileGlobs("redirect_to", rule.RedirectTo, '/')})
	}
	if rule.Piped != nil {
		add(predicate{kind: predPiped, b: *rule.Piped})
	}
	if len(rule.PipeFrom) > 0 {
		add(predicate{kind: predPipeFrom, set: toSet(rule.PipeFrom)})
	}
	if len(rule.Domains) > 0 {
		add(predicate{kind: predDomains, globs: compileGlobs("domains", rule.Domains, '.')})
	}
	if rule.WorkingDir != "" {
		add(predicate{kind: predWorkingDir, globs: compileGlobs("working_dir", []string{rule.WorkingDir}, '/')})
	}

	if len(cr.preds) == 0 {
		errs.add("%s: rule has no matcher fields", label)
	}
	for _, p := range cr.preds {
		cr.Specificity += p.weight()
	}
	return cr
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

func ruleLabel(rule Rule, index int) string {
	if rule.ID != "" {
		return fmt.Sprintf("rule %q", rule.ID)
	}
	return fmt.Sprintf("rule #%d", index+1)
}
