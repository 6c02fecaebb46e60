package normalize

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gzhole/bashguard/internal/shell"
	"github.com/gzhole/bashguard/internal/unicode"
)

var (
	domainRegex = regexp.MustCompile(`https?://([^/\s'"]+)`)

	// shells whose -c script is parsed and evaluated as a nested command
	shells = set(`sh bash zsh dash ksh ash mksh`)

	// environment prefixes that change which program actually runs
	loaderEnv = set(`PATH LD_PRELOAD LD_LIBRARY_PATH LD_AUDIT DYLD_INSERT_LIBRARIES
		DYLD_LIBRARY_PATH BASH_ENV ENV IFS`)
)

// Normalizer flattens command trees into invocations. It is stateless and
// safe for concurrent use.
type Normalizer struct {
	parser *shell.Parser
}

// New returns a Normalizer that parses inline scripts with parser. A nil
// parser selects the default depth bound.
func New(parser *shell.Parser) *Normalizer {
	if parser == nil {
		parser = shell.NewParser(shell.DefaultMaxDepth)
	}
	return &Normalizer{parser: parser}
}

// Normalize flattens tree with the default parser.
func Normalize(tree shell.Node) ([]Invocation, error) {
	return New(nil).Normalize(tree)
}

// Normalize returns the invocations of tree in evaluation order: pre-order,
// with substitutions, wrapped programs and inline scripts emitted before
// the invocation that contains them.
func (n *Normalizer) Normalize(tree shell.Node) ([]Invocation, error) {
	w := &walker{parser: n.parser}
	if err := w.node(tree, frame{origin: OriginTop}); err != nil {
		return nil, err
	}
	return w.out, nil
}

type frame struct {
	origin    Origin
	depth     int
	piped     bool
	pipedFrom string
}

type walker struct {
	parser *shell.Parser
	out    []Invocation
}

func (w *walker) node(n shell.Node, f frame) error {
	switch n := n.(type) {
	case *shell.List:
		for _, it := range n.Items {
			if err := w.node(it.Node, f); err != nil {
				return err
			}
		}
	case *shell.Pipeline:
		for i, c := range n.Commands {
			cf := f
			if i > 0 {
				cf.piped = true
				cf.pipedFrom = lastProgram(n.Commands[i-1])
			}
			if err := w.node(c, cf); err != nil {
				return err
			}
		}
	case *shell.Subshell:
		inner := f
		inner.depth++
		if err := w.wordSubsts(n.Words, inner); err != nil {
			return err
		}
		if err := w.redirectSubsts(n.Redirects, inner); err != nil {
			return err
		}
		return w.node(n.Body, inner)
	case *shell.Substitution:
		return w.node(n.Body, frame{origin: OriginSubstitution, depth: f.depth + 1})
	case *shell.Simple:
		return w.simple(n, f)
	}
	return nil
}

func (w *walker) wordSubsts(words []shell.Word, f frame) error {
	for _, word := range words {
		for _, s := range word.Substitutions {
			if err := w.node(s, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) redirectSubsts(rs []shell.Redirect, f frame) error {
	for _, r := range rs {
		if err := w.wordSubsts([]shell.Word{r.Target}, f); err != nil {
			return err
		}
		if r.Heredoc != nil {
			if err := w.wordSubsts([]shell.Word{*r.Heredoc}, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) simple(s *shell.Simple, f frame) error {
	for _, a := range s.Assigns {
		if err := w.wordSubsts([]shell.Word{a.Value}, f); err != nil {
			return err
		}
	}
	if err := w.wordSubsts(s.Words, f); err != nil {
		return err
	}
	if err := w.redirectSubsts(s.Redirects, f); err != nil {
		return err
	}

	inv := invocation(s.Words, f)
	inv.Keyword = s.Keyword
	var prefix []string
	for _, a := range s.Assigns {
		inv.Env = append(inv.Env, a.Name+"="+a.Value.Text())
		prefix = append(prefix, a.Name+"="+a.Value.Raw)
		if loaderEnv[a.Name] && inv.ProgramPath != "" {
			inv.markAmbiguous(fmt.Sprintf("%s is set for the command", a.Name))
		}
	}
	if len(prefix) > 0 {
		inv.Raw = strings.TrimSpace(strings.Join(prefix, " ") + " " + inv.Raw)
	}
	for _, r := range s.Redirects {
		rd := Redirect{Fd: r.Fd, Op: r.Op, Target: r.Target.Text()}
		if !r.Target.Static {
			inv.markAmbiguous(fmt.Sprintf("redirect target %s is expanded at run time", r.Target.Raw))
		}
		if rd.Writes() && looksLikePath(rd.Target) {
			inv.Paths = uniqueStrings(append(inv.Paths, rd.Target))
		}
		inv.Redirects = append(inv.Redirects, rd)
	}

	if err := w.expand(&inv, s.Words, stdinOf(s.Redirects), f); err != nil {
		return err
	}
	w.out = append(w.out, inv)
	return nil
}

// expand emits the programs an invocation runs on its behalf: the command
// behind a wrapper and the script given to a shell or eval.
func (w *walker) expand(inv *Invocation, words []shell.Word, in stdin, f frame) error {
	if len(words) == 0 || !words[0].Static {
		return nil
	}

	if spec, ok := wrappers[inv.Program]; ok {
		u, found := spec.unwrap(words)
		if u.reason != "" {
			inv.markAmbiguous(u.reason)
		}
		if found {
			wf := f
			wf.origin = OriginWrapped
			inner := invocation(u.words, wf)
			inner.Env = append(inner.Env, u.env...)
			inner.Redirects = append([]Redirect(nil), inv.Redirects...)
			for _, e := range u.env {
				name, _, _ := strings.Cut(e, "=")
				if loaderEnv[name] {
					inner.markAmbiguous(fmt.Sprintf("%s is set for the command", name))
				}
			}
			if err := w.expand(&inner, u.words, in, wf); err != nil {
				return err
			}
			w.out = append(w.out, inner)
		}
	}

	script, ok := inlineScript(inv, words, in)
	if !ok {
		return nil
	}
	tree, err := w.parser.ParseAt(script, f.depth+1)
	if err != nil {
		return fmt.Errorf("inline script for %s: %w", inv.Program, err)
	}
	return w.node(tree, frame{origin: OriginInline, depth: f.depth + 1})
}

// stdin is what a command's redirects feed to its standard input.
type stdin struct {
	redirected bool
	static     bool
	text       string
	source     string // operator that supplied the input
}

// stdinOf returns the input given by the last redirect of descriptor 0.
func stdinOf(rs []shell.Redirect) stdin {
	var in stdin
	for _, r := range rs {
		if r.Fd != "" && r.Fd != "0" {
			continue
		}
		switch r.Op {
		case "<<<":
			in = stdin{redirected: true, static: r.Target.Static, text: r.Target.Value, source: r.Op}
		case "<<", "<<-":
			in = stdin{redirected: true, static: true, source: r.Op}
			if r.Heredoc != nil {
				in.static, in.text = r.Heredoc.Static, r.Heredoc.Value
			}
		case "<", "<>", "<&":
			in = stdin{redirected: true, source: r.Op}
		}
	}
	return in
}

// inlineScript returns the static script given to a shell with -c, on its
// standard input, or to eval. Dynamic scripts mark the invocation ambiguous
// instead.
func inlineScript(inv *Invocation, words []shell.Word, in stdin) (string, bool) {
	switch {
	case inv.Program == "eval":
		parts := make([]string, 0, len(words)-1)
		for _, word := range words[1:] {
			if !word.Static {
				inv.markAmbiguous("eval argument is expanded at run time")
				return "", false
			}
			parts = append(parts, word.Value)
		}
		return strings.Join(parts, " "), len(parts) > 0

	case shells[inv.Program]:
		for i := 1; i < len(words); i++ {
			word := words[i]
			if !word.Static {
				return "", false
			}
			text := word.Value
			switch {
			case text == "-o" || text == "+o":
				i++
			case strings.HasPrefix(text, "--"):
			case strings.HasPrefix(text, "-") && strings.Contains(text, "c"):
				if i+1 >= len(words) {
					return "", false
				}
				script := words[i+1]
				if !script.Static {
					inv.markAmbiguous("inline script is expanded at run time")
					return "", false
				}
				return script.Value, true
			case strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+"):
			default:
				// a script file, not an inline script
				return "", false
			}
		}
		switch {
		case !in.redirected:
		case in.static:
			return in.text, strings.TrimSpace(in.text) != ""
		case in.source == "<<<" || in.source == "<<" || in.source == "<<-":
			inv.markAmbiguous("script on standard input is expanded at run time")
		default:
			inv.markAmbiguous("script is read from standard input")
		}
	case inv.Program == "fish" && inv.HasFlag("-c"):
		inv.markAmbiguous("fish scripts cannot be analysed")
	}
	return "", false
}

// invocation builds the invocation for a program word and its arguments.
func invocation(words []shell.Word, f frame) Invocation {
	inv := Invocation{
		Origin:    f.origin,
		Depth:     f.depth,
		Piped:     f.piped,
		PipedFrom: f.pipedFrom,
	}
	if len(words) == 0 {
		return inv
	}

	raw := make([]string, 0, len(words))
	for _, word := range words {
		raw = append(raw, word.Raw)
	}
	inv.Raw = strings.Join(raw, " ")

	prog := words[0]
	inv.ProgramPath = prog.Text()
	inv.Program = programName(inv.ProgramPath)
	switch {
	case !prog.Static:
		inv.markAmbiguous("program name is expanded at run time")
	case prog.Has(shell.ExpandGlob):
		inv.markAmbiguous("program name is a glob pattern")
	}
	if unicode.Confusable(inv.ProgramPath) {
		inv.markAmbiguous("program name contains look-alike characters")
	}

	for _, word := range words[1:] {
		arg := word.Text()
		inv.Args = append(inv.Args, arg)
		if !word.Static {
			inv.markAmbiguous(fmt.Sprintf("argument %s is expanded at run time", word.Raw))
			continue
		}
		if looksLikePath(arg) {
			inv.Paths = append(inv.Paths, arg)
		}
		inv.Domains = append(inv.Domains, extractDomains(arg)...)
	}
	inv.Subcommands, inv.Flags, inv.Positionals = splitArgs(inv.Program, inv.Args)

	// git clone over SSH names its host without a scheme
	if inv.Program == "git" && len(inv.Subcommands) > 0 && inv.Subcommands[0] == "clone" {
		for _, p := range inv.Positionals {
			if d := extractGitDomain(p); d != "" {
				inv.Domains = append(inv.Domains, d)
			}
		}
	}
	inv.Paths = uniqueStrings(inv.Paths)
	inv.Domains = uniqueStrings(inv.Domains)
	return inv
}

func programName(p string) string {
	if p == "" {
		return ""
	}
	base := filepath.Base(p)
	if base == "." || base == "/" {
		return p
	}
	return base
}

// lastProgram names the program whose output feeds the next pipeline stage.
func lastProgram(n shell.Node) string {
	var name string
	shell.Walk(n, func(n shell.Node) bool {
		switch n := n.(type) {
		case *shell.Substitution:
			return false
		case *shell.Simple:
			if len(n.Words) > 0 {
				name = programName(n.Words[0].Text())
			}
		}
		return true
	})
	return name
}

func looksLikePath(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return false
	}
	return strings.HasPrefix(arg, "~") || strings.Contains(arg, "/")
}

func extractDomains(s string) []string {
	matches := domainRegex.FindAllStringSubmatch(s, -1)
	domains := make([]string, 0, len(matches))
	for _, match := range matches {
		if len(match) > 1 {
			domains = append(domains, match[1])
		}
	}
	return domains
}

func extractGitDomain(repoURL string) string {
	if strings.HasPrefix(repoURL, "git@") {
		host, _, _ := strings.Cut(strings.TrimPrefix(repoURL, "git@"), ":")
		return host
	}
	if strings.HasPrefix(repoURL, "ssh://") {
		if u, err := url.Parse(repoURL); err == nil {
			return u.Hostname()
		}
	}
	return ""
}

func uniqueStrings(input []string) []string {
	if len(input) == 0 {
		return input
	}
	seen := make(map[string]bool)
	result := make([]string, 0, len(input))
	for _, s := range input {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
