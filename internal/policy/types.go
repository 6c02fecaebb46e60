package policy

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// ParseDecision accepts allow, ask and deny in any case. "prompt" is an
// alias for ask.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return DecisionAllow, nil
	case "ask", "prompt":
		return DecisionAsk, nil
	case "deny":
		return DecisionDeny, nil
	}
	return "", fmt.Errorf("unknown action %q (want allow, ask or deny)", s)
}

// Severity orders decisions from least to most restrictive.
func (d Decision) Severity() int {
	switch d {
	case DecisionAllow:
		return 0
	case DecisionAsk:
		return 1
	case DecisionDeny:
		return 2
	}
	return 2
}

// Config is the workspace configuration file.
type Config struct {
	Settings Settings `toml:"settings" yaml:"settings"`
	Profiles Profiles `toml:"profiles" yaml:"profiles"`
	Rules    []Rule   `toml:"rules" yaml:"rules"`
}

type Settings struct {
	DefaultAction string `toml:"default_action" yaml:"default_action"`
	LogDecisions  bool   `toml:"log_decisions" yaml:"log_decisions"`
	MaxDepth      int    `toml:"max_depth" yaml:"max_depth"`
}

// Profiles names the rule sets a workspace activates.
type Profiles struct {
	Builtins []string `toml:"builtins" yaml:"builtins"`
	Custom   []string `toml:"custom" yaml:"custom"`
}

// Profile is a named, reusable rule set.
type Profile struct {
	Meta  ProfileMeta `toml:"profile" yaml:"profile"`
	Rules []Rule      `toml:"rules" yaml:"rules"`
}

type ProfileMeta struct {
	Name        string `toml:"name" yaml:"name"`
	Description string `toml:"description" yaml:"description"`
}

// Rule is the declarative form of a policy rule. Every non-empty matcher
// field must hold for the rule to match an invocation.
type Rule struct {
	ID       string `toml:"id" yaml:"id" json:"id,omitempty"`
	Priority int    `toml:"priority" yaml:"priority" json:"priority,omitempty"`
	Action   string `toml:"action" yaml:"action" json:"action"`
	Message  string `toml:"message" yaml:"message" json:"message,omitempty"`

	Program          StringOrList `toml:"program" yaml:"program" json:"program,omitempty"`
	ProgramGlob      string       `toml:"program_glob" yaml:"program_glob" json:"program_glob,omitempty"`
	Subcommands      []string     `toml:"subcommands" yaml:"subcommands" json:"subcommands,omitempty"`
	SubcommandsExact bool         `toml:"subcommands_exact" yaml:"subcommands_exact" json:"subcommands_exact,omitempty"`

	ArgsAny    []string `toml:"args_any" yaml:"args_any" json:"args_any,omitempty"`
	ArgsAll    []string `toml:"args_all" yaml:"args_all" json:"args_all,omitempty"`
	ArgsNone   []string `toml:"args_none" yaml:"args_none" json:"args_none,omitempty"`
	ArgsPrefix []string `toml:"args_prefix" yaml:"args_prefix" json:"args_prefix,omitempty"`
	ArgsMatch  string   `toml:"args_match" yaml:"args_match" json:"args_match,omitempty"`
	ArgsRegex  string   `toml:"args_regex" yaml:"args_regex" json:"args_regex,omitempty"`

	FlagsPresent []string     `toml:"flags_present" yaml:"flags_present" json:"flags_present,omitempty"`
	FlagsAbsent  []string     `toml:"flags_absent" yaml:"flags_absent" json:"flags_absent,omitempty"`
	MinArgs      *int         `toml:"min_args" yaml:"min_args" json:"min_args,omitempty"`
	MaxArgs      *int         `toml:"max_args" yaml:"max_args" json:"max_args,omitempty"`
	RedirectTo   []string     `toml:"redirect_to" yaml:"redirect_to" json:"redirect_to,omitempty"`
	Piped        *bool        `toml:"piped" yaml:"piped" json:"piped,omitempty"`
	PipeFrom     StringOrList `toml:"pipe_from" yaml:"pipe_from" json:"pipe_from,omitempty"`
	Domains      []string     `toml:"domains" yaml:"domains" json:"domains,omitempty"`
	WorkingDir   string       `toml:"working_dir" yaml:"working_dir" json:"working_dir,omitempty"`

	// Source names where the rule was defined, e.g. "config" or
	// "profile git/read-only".
	Source string `toml:"-" yaml:"-" json:"source,omitempty"`
}

// StringOrList accepts either a single string or a list of strings.
// "rm" → ["rm"], ["rm", "unlink"] → ["rm", "unlink"]
type StringOrList []string

func (s *StringOrList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = []string{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (s *StringOrList) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case string:
		*s = []string{v}
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string, got %T", item)
			}
			list = append(list, str)
		}
		*s = list
	default:
		return fmt.Errorf("expected string or list of strings, got %T", v)
	}
	return nil
}
