package normalize

import "strings"

// Origin records how an invocation was reached.
type Origin string

const (
	OriginTop          Origin = "top"
	OriginSubstitution Origin = "substitution"
	OriginWrapped      Origin = "wrapped"
	OriginInline       Origin = "inline"
)

// Redirect is a redirection in a form rules can match on.
type Redirect struct {
	Fd     string
	Op     string
	Target string // verbatim target text
}

// Writes reports whether the redirect writes to its target.
func (r Redirect) Writes() bool {
	switch r.Op {
	case ">", ">>", ">|", "&>", "&>>", "<>":
		return true
	case ">&":
		// >&2 duplicates a descriptor and >&- closes one; any other
		// target is a file opened for writing.
		return r.Target != "" && r.Target != "-" && !allDigits(r.Target)
	}
	return false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// Invocation is one program execution extracted from a command tree.
type Invocation struct {
	Program     string   // base name of the program word
	ProgramPath string   // program word as written
	Args        []string // every word after the program
	Subcommands []string
	Flags       []string // individual flags: -rf becomes -r and -f, --x=y becomes --x
	Positionals []string // arguments that are neither flags nor subcommands
	Env         []string // NAME=value prefixes
	Redirects   []Redirect
	Paths       []string
	Domains     []string

	Ambiguous        bool
	AmbiguityReasons []string

	Piped     bool   // stdin comes from a pipe
	PipedFrom string // program feeding the pipe, when known
	Origin    Origin
	Depth     int
	Keyword   bool // shell keyword form such as export or [[
	Raw       string
}

// HasFlag reports whether the invocation carries flag f.
func (inv Invocation) HasFlag(f string) bool {
	for _, x := range inv.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// Executes reports whether the invocation runs anything at all. A bare
// assignment such as "X=1" does not.
func (inv Invocation) Executes() bool {
	return inv.ProgramPath != "" || len(inv.Redirects) > 0
}

// Command renders the invocation as a single line for messages.
func (inv Invocation) Command() string {
	if inv.Raw != "" {
		return inv.Raw
	}
	return strings.TrimSpace(inv.ProgramPath + " " + strings.Join(inv.Args, " "))
}

func (inv *Invocation) markAmbiguous(reason string) {
	inv.Ambiguous = true
	for _, r := range inv.AmbiguityReasons {
		if r == reason {
			return
		}
	}
	inv.AmbiguityReasons = append(inv.AmbiguityReasons, reason)
}
