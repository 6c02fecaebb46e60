package shell

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/gzhole/bashguard/internal/unicode"
)

// DefaultMaxDepth bounds nesting of subshells, groups, compound bodies,
// substitutions and inline scripts.
const DefaultMaxDepth = 16

// Parser turns command strings into trees. A Parser is stateless and safe
// for concurrent use.
type Parser struct {
	maxDepth int
}

// NewParser returns a parser that rejects trees nested deeper than
// maxDepth. A non-positive value selects DefaultMaxDepth; values above
// MaxDepthLimit are clamped to it.
func NewParser(maxDepth int) *Parser {
	switch {
	case maxDepth <= 0:
		maxDepth = DefaultMaxDepth
	case maxDepth > MaxDepthLimit:
		maxDepth = MaxDepthLimit
	}
	return &Parser{maxDepth: maxDepth}
}

// MaxDepth returns the configured nesting bound.
func (p *Parser) MaxDepth() int { return p.maxDepth }

// Parse parses a command with the default depth bound.
func Parse(command string) (Node, error) {
	return NewParser(DefaultMaxDepth).Parse(command)
}

// Parse parses command into a tree rooted at a *List.
func (p *Parser) Parse(command string) (Node, error) {
	return p.ParseAt(command, 0)
}

// ParseAt parses a script that is already nested depth levels deep, such
// as the argument of "bash -c".
func (p *Parser) ParseAt(command string, depth int) (Node, error) {
	if depth > p.maxDepth {
		return nil, p.tooDeep()
	}
	if strings.TrimSpace(command) == "" {
		return &List{}, nil
	}
	if err := p.precheck(command, depth); err != nil {
		return nil, err
	}
	if f, blocked := unicode.Scan(command).First(); blocked {
		return nil, newParseError(ErrSmuggling, f.Offset, "hidden or control character %s", f.Codepoint)
	}

	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, &ParseError{Kind: ErrSyntax, Reason: err.Error(), Offset: -1, Err: err}
	}

	c := &converter{src: command, maxDepth: p.maxDepth, parser: p}
	return c.list(file.Stmts, depth)
}

func (p *Parser) tooDeep() *ParseError {
	return newParseError(ErrTooDeep, -1, "nesting exceeds maximum depth of %d", p.maxDepth)
}

type converter struct {
	src      string
	maxDepth int
	parser   *Parser
}

func (c *converter) list(stmts []*syntax.Stmt, depth int) (*List, error) {
	if depth > c.maxDepth {
		return nil, c.parser.tooDeep()
	}
	l := &List{}
	if err := c.appendStmts(l, stmts, depth); err != nil {
		return nil, err
	}
	return l, nil
}

func (c *converter) appendStmts(l *List, stmts []*syntax.Stmt, depth int) error {
	op := OpSeq
	for _, s := range stmts {
		if err := c.appendAndOr(l, s, op, depth); err != nil {
			return err
		}
		op = OpSeq
		if s.Background {
			l.Items[len(l.Items)-1].Background = true
			op = OpBackground
		}
	}
	return nil
}

// appendAndOr flattens a chain of && and || into list items.
func (c *converter) appendAndOr(l *List, s *syntax.Stmt, op ListOp, depth int) error {
	if b, ok := s.Cmd.(*syntax.BinaryCmd); ok && isAndOr(b.Op) && !s.Negated && len(s.Redirs) == 0 {
		if err := c.appendAndOr(l, b.X, op, depth); err != nil {
			return err
		}
		next := OpAnd
		if b.Op == syntax.OrStmt {
			next = OpOr
		}
		return c.appendAndOr(l, b.Y, next, depth)
	}
	n, err := c.stmt(s, depth)
	if err != nil {
		return err
	}
	l.Items = append(l.Items, ListItem{
		Op:          op,
		Conditional: op == OpAnd || op == OpOr,
		Node:        n,
	})
	return nil
}

func isAndOr(op syntax.BinCmdOperator) bool {
	return op == syntax.AndStmt || op == syntax.OrStmt
}

func isPipe(op syntax.BinCmdOperator) bool {
	return op == syntax.Pipe || op == syntax.PipeAll
}

func (c *converter) pipeline(p *Pipeline, s *syntax.Stmt, depth int) error {
	if b, ok := s.Cmd.(*syntax.BinaryCmd); ok && isPipe(b.Op) && !s.Negated && len(s.Redirs) == 0 {
		if err := c.pipeline(p, b.X, depth); err != nil {
			return err
		}
		p.Stderr = append(p.Stderr, b.Op == syntax.PipeAll)
		return c.pipeline(p, b.Y, depth)
	}
	n, err := c.stmt(s, depth)
	if err != nil {
		return err
	}
	p.Commands = append(p.Commands, n)
	return nil
}

func (c *converter) stmt(s *syntax.Stmt, depth int) (Node, error) {
	if s.Coprocess {
		return nil, newParseError(ErrUnsupported, c.offset(s), "coprocesses are not supported")
	}
	redirs, err := c.redirects(s.Redirs, depth)
	if err != nil {
		return nil, err
	}

	switch cmd := s.Cmd.(type) {
	case nil:
		return &Simple{Redirects: redirs, Negated: s.Negated}, nil

	case *syntax.CallExpr:
		sc := &Simple{Redirects: redirs, Negated: s.Negated}
		for _, a := range cmd.Assigns {
			as, err := c.assign(a, depth)
			if err != nil {
				return nil, err
			}
			sc.Assigns = append(sc.Assigns, as)
		}
		words, err := c.words(cmd.Args, depth)
		if err != nil {
			return nil, err
		}
		sc.Words = words
		return sc, nil

	case *syntax.BinaryCmd:
		if isPipe(cmd.Op) {
			p := &Pipeline{}
			if err := c.pipeline(p, &syntax.Stmt{Cmd: cmd}, depth); err != nil {
				return nil, err
			}
			return p, nil
		}
		l := &List{}
		if err := c.appendAndOr(l, &syntax.Stmt{Cmd: cmd}, OpSeq, depth); err != nil {
			return nil, err
		}
		return l, nil

	case *syntax.Subshell:
		return c.scope(ScopeSubshell, "", cmd.Stmts, nil, redirs, depth)

	case *syntax.Block:
		return c.scope(ScopeGroup, "", cmd.Stmts, nil, redirs, depth)

	case *syntax.IfClause:
		var stmts []*syntax.Stmt
		for ic := cmd; ic != nil; ic = ic.Else {
			stmts = append(stmts, ic.Cond...)
			stmts = append(stmts, ic.Then...)
		}
		return c.scope(ScopeCompound, "if", stmts, nil, redirs, depth)

	case *syntax.WhileClause:
		kw := "while"
		if cmd.Until {
			kw = "until"
		}
		stmts := append(append([]*syntax.Stmt{}, cmd.Cond...), cmd.Do...)
		return c.scope(ScopeCompound, kw, stmts, nil, redirs, depth)

	case *syntax.ForClause:
		kw := "for"
		if cmd.Select {
			kw = "select"
		}
		var words []Word
		switch loop := cmd.Loop.(type) {
		case *syntax.WordIter:
			words, err = c.words(loop.Items, depth+1)
		case *syntax.CStyleLoop:
			for _, e := range []syntax.ArithmExpr{loop.Init, loop.Cond, loop.Post} {
				if e == nil {
					continue
				}
				w, werr := c.exprWord(e, depth+1)
				if werr != nil {
					return nil, werr
				}
				words = append(words, w)
			}
		}
		if err != nil {
			return nil, err
		}
		return c.scope(ScopeCompound, kw, cmd.Do, words, redirs, depth)

	case *syntax.CaseClause:
		words := []*syntax.Word{cmd.Word}
		var stmts []*syntax.Stmt
		for _, item := range cmd.Items {
			words = append(words, item.Patterns...)
			stmts = append(stmts, item.Stmts...)
		}
		ws, err := c.words(words, depth+1)
		if err != nil {
			return nil, err
		}
		return c.scope(ScopeCompound, "case", stmts, ws, redirs, depth)

	case *syntax.FuncDecl:
		var stmts []*syntax.Stmt
		if cmd.Body != nil {
			stmts = []*syntax.Stmt{cmd.Body}
		}
		return c.scope(ScopeCompound, "function", stmts, nil, redirs, depth)

	case *syntax.TimeClause:
		if cmd.Stmt == nil {
			return &Simple{Words: []Word{literal("time")}, Redirects: redirs}, nil
		}
		return c.scope(ScopeCompound, "time", []*syntax.Stmt{cmd.Stmt}, nil, redirs, depth)

	case *syntax.DeclClause:
		sc := &Simple{Words: []Word{literal(cmd.Variant.Value)}, Redirects: redirs, Negated: s.Negated, Keyword: true}
		for _, a := range cmd.Args {
			w, err := c.declArg(a, depth)
			if err != nil {
				return nil, err
			}
			sc.Words = append(sc.Words, w)
		}
		return sc, nil

	case *syntax.ArithmCmd:
		w, err := c.exprWord(cmd.X, depth)
		if err != nil {
			return nil, err
		}
		return &Simple{Words: []Word{literal("(("), w}, Redirects: redirs, Negated: s.Negated, Keyword: true}, nil

	case *syntax.TestClause:
		w, err := c.exprWord(cmd.X, depth)
		if err != nil {
			return nil, err
		}
		return &Simple{Words: []Word{literal("[["), w}, Redirects: redirs, Negated: s.Negated, Keyword: true}, nil

	case *syntax.LetClause:
		sc := &Simple{Words: []Word{literal("let")}, Redirects: redirs, Negated: s.Negated, Keyword: true}
		for _, e := range cmd.Exprs {
			w, err := c.exprWord(e, depth)
			if err != nil {
				return nil, err
			}
			sc.Words = append(sc.Words, w)
		}
		return sc, nil

	case *syntax.CoprocClause:
		return nil, newParseError(ErrUnsupported, c.offset(s), "coprocesses are not supported")

	default:
		return nil, newParseError(ErrUnsupported, c.offset(s), "unsupported construct %T", cmd)
	}
}

func (c *converter) scope(kind ScopeKind, keyword string, stmts []*syntax.Stmt, words []Word, redirs []Redirect, depth int) (Node, error) {
	body, err := c.list(stmts, depth+1)
	if err != nil {
		return nil, err
	}
	return &Subshell{Kind: kind, Keyword: keyword, Body: body, Words: words, Redirects: redirs}, nil
}

func (c *converter) redirects(rs []*syntax.Redirect, depth int) ([]Redirect, error) {
	var out []Redirect
	for _, r := range rs {
		rd := Redirect{Op: r.Op.String()}
		if r.N != nil {
			rd.Fd = r.N.Value
		}
		if r.Word != nil {
			w, err := c.word(r.Word, depth)
			if err != nil {
				return nil, err
			}
			rd.Target = w
		}
		if r.Hdoc != nil {
			w, err := c.word(r.Hdoc, depth)
			if err != nil {
				return nil, err
			}
			rd.Heredoc = &w
		}
		out = append(out, rd)
	}
	return out, nil
}

func (c *converter) assign(a *syntax.Assign, depth int) (Assign, error) {
	as := Assign{Value: Word{Static: true}}
	if a.Name != nil {
		as.Name = a.Name.Value
	}
	if a.Value != nil {
		w, err := c.word(a.Value, depth)
		if err != nil {
			return Assign{}, err
		}
		as.Value = w
	}
	if a.Array != nil {
		w, err := c.exprWord(a.Array, depth)
		if err != nil {
			return Assign{}, err
		}
		as.Value = w
	}
	return as, nil
}

// declArg renders one argument of export/declare/local/readonly as a word.
func (c *converter) declArg(a *syntax.Assign, depth int) (Word, error) {
	if a.Naked {
		if a.Name != nil {
			return literal(a.Name.Value), nil
		}
		if a.Value != nil {
			return c.word(a.Value, depth)
		}
		return literal(""), nil
	}
	as, err := c.assign(a, depth)
	if err != nil {
		return Word{}, err
	}
	w := as.Value
	w.Raw = c.raw(a)
	if w.Static {
		w.Value = as.Name + "=" + w.Value
	}
	return w, nil
}

// exprWord converts an arithmetic, test or array expression into a single
// word, keeping any substitutions it contains. Each arithmetic expansion
// and parenthesised subexpression is one nesting level.
func (c *converter) exprWord(n syntax.Node, depth int) (Word, error) {
	w := Word{Raw: c.raw(n), Static: true}
	var err error
	var opened []bool // per visited node: whether it added a level
	syntax.Walk(n, func(node syntax.Node) bool {
		if node == nil {
			if opened[len(opened)-1] {
				depth--
			}
			opened = opened[:len(opened)-1]
			return true
		}
		if err != nil {
			return false
		}
		level := false
		switch node.(type) {
		case *syntax.ArithmExp, *syntax.ParenArithm:
			if depth+1 > c.maxDepth {
				err = c.parser.tooDeep()
				return false
			}
			depth++
			level = true
		}
		switch x := node.(type) {
		case *syntax.ParamExp:
			w.Static = false
			w.Expansions |= ExpandParam
		case *syntax.ArithmExp:
			w.Static = false
			w.Expansions |= ExpandArith
		case *syntax.CmdSubst:
			var s *Substitution
			s, err = c.cmdSubst(x, depth)
			if err == nil {
				w.Static = false
				w.Expansions |= ExpandCommand
				w.Substitutions = append(w.Substitutions, s)
			}
			return false
		case *syntax.ProcSubst:
			var s *Substitution
			s, err = c.procSubst(x, depth)
			if err == nil {
				w.Static = false
				w.Expansions |= ExpandProcess
				w.Substitutions = append(w.Substitutions, s)
			}
			return false
		}
		opened = append(opened, level)
		return true
	})
	if err != nil {
		return Word{}, err
	}
	if w.Static {
		w.Value = w.Raw
	}
	return w, nil
}

func (c *converter) cmdSubst(cs *syntax.CmdSubst, depth int) (*Substitution, error) {
	body, err := c.list(cs.Stmts, depth+1)
	if err != nil {
		return nil, err
	}
	kind := SubstCommand
	if cs.Backquotes {
		kind = SubstBacktick
	}
	return &Substitution{Kind: kind, Body: body}, nil
}

func (c *converter) procSubst(ps *syntax.ProcSubst, depth int) (*Substitution, error) {
	body, err := c.list(ps.Stmts, depth+1)
	if err != nil {
		return nil, err
	}
	kind := SubstProcessIn
	if ps.Op == syntax.CmdOut {
		kind = SubstProcessOut
	}
	return &Substitution{Kind: kind, Body: body}, nil
}

// raw returns the source text of n.
func (c *converter) raw(n syntax.Node) string {
	if n == nil {
		return ""
	}
	start, end := int(n.Pos().Offset()), int(n.End().Offset())
	if n.Pos().IsValid() && start <= end && end <= len(c.src) {
		return c.src[start:end]
	}
	var sb strings.Builder
	if err := syntax.NewPrinter().Print(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}

func (c *converter) offset(n syntax.Node) int {
	if !n.Pos().IsValid() {
		return -1
	}
	return int(n.Pos().Offset())
}

func literal(s string) Word {
	return Word{Raw: s, Value: s, Static: true}
}
