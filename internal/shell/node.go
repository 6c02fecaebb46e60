package shell

// Node is one element of a parsed command tree. The set of implementations
// is closed: *Simple, *Pipeline, *List, *Subshell and *Substitution.
type Node interface {
	node()
}

// Simple is a single program invocation with its arguments, leading
// assignments and redirections.
type Simple struct {
	Assigns   []Assign
	Words     []Word // Words[0] is the program word, when present
	Redirects []Redirect
	Negated   bool // "! cmd"
	Keyword   bool // declaration / test / arithmetic builtin synthesised from a keyword form
}

// Pipeline is a sequence of commands connected by | or |&.
type Pipeline struct {
	Commands []Node
	Stderr   []bool // Stderr[i] is true when Commands[i] is joined to Commands[i+1] by |&
}

// ListOp is the operator that joins a list item to its predecessor.
type ListOp string

const (
	OpSeq        ListOp = ";"
	OpAnd        ListOp = "&&"
	OpOr         ListOp = "||"
	OpBackground ListOp = "&"
)

// ListItem is a node in a List together with the operator that precedes it.
type ListItem struct {
	Op          ListOp
	Conditional bool // runs only depending on the predecessor's exit status
	Background  bool
	Node        Node
}

// List is a sequence of nodes joined by ;, &&, || or &.
type List struct {
	Items []ListItem
}

// ScopeKind distinguishes the flavours of nested execution.
type ScopeKind string

const (
	ScopeSubshell ScopeKind = "subshell" // ( ... ), isolated scope
	ScopeGroup    ScopeKind = "group"    // { ...; }, shared scope
	ScopeCompound ScopeKind = "compound" // if/while/until/for/case/select/function bodies
)

// Subshell is a nested command list executed in its own (or the shared) scope.
type Subshell struct {
	Kind      ScopeKind
	Keyword   string // "if", "for", "case", "function", ... for ScopeCompound
	Body      *List
	Words     []Word // loop items, case subjects and patterns
	Redirects []Redirect
}

// SubstitutionKind identifies how a substitution's output reaches the
// enclosing command.
type SubstitutionKind string

const (
	SubstCommand    SubstitutionKind = "command"     // $( ... )
	SubstBacktick   SubstitutionKind = "backtick"    // ` ... `
	SubstProcessIn  SubstitutionKind = "process-in"  // <( ... )
	SubstProcessOut SubstitutionKind = "process-out" // >( ... )
)

// Substitution is a command whose output is interpolated into a word of an
// enclosing node. It executes on its own and is always evaluated.
type Substitution struct {
	Kind SubstitutionKind
	Body *List
}

func (*Simple) node()       {}
func (*Pipeline) node()     {}
func (*List) node()         {}
func (*Subshell) node()     {}
func (*Substitution) node() {}

// Expansion flags record the dynamic parts a word contains.
type Expansion uint8

const (
	ExpandParam Expansion = 1 << iota
	ExpandArith
	ExpandCommand
	ExpandProcess
	ExpandBrace
	ExpandGlob
	ExpandANSIQuote
)

// Word is one shell word.
type Word struct {
	Raw           string // source text
	Value         string // unquoted text; only meaningful when Static
	Static        bool   // no parameter, arithmetic, command, brace or $'' expansion; glob patterns stay literal
	Expansions    Expansion
	Substitutions []*Substitution
}

// Has reports whether w contains the given kind of expansion.
func (w Word) Has(e Expansion) bool {
	return w.Expansions&e != 0
}

// Text returns the unquoted value for static words and the raw source
// text otherwise.
func (w Word) Text() string {
	if w.Static {
		return w.Value
	}
	return w.Raw
}

// Assign is a NAME=value prefix.
type Assign struct {
	Name  string
	Value Word
}

// Redirect is a redirection attached to a command.
type Redirect struct {
	Fd      string // explicit descriptor, e.g. "2"
	Op      string // ">", ">>", "<", "<<", "&>", ...
	Target  Word
	Heredoc *Word
}

// Walk calls fn for every node of the tree in pre-order. Substitutions
// nested in words are visited after the node that owns them.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *List:
		for _, it := range n.Items {
			Walk(it.Node, fn)
		}
	case *Pipeline:
		for _, c := range n.Commands {
			Walk(c, fn)
		}
	case *Subshell:
		walkWords(n.Words, fn)
		walkRedirects(n.Redirects, fn)
		Walk(n.Body, fn)
	case *Substitution:
		Walk(n.Body, fn)
	case *Simple:
		for _, a := range n.Assigns {
			walkWords([]Word{a.Value}, fn)
		}
		walkWords(n.Words, fn)
		walkRedirects(n.Redirects, fn)
	}
}

func walkWords(ws []Word, fn func(Node) bool) {
	for _, w := range ws {
		for _, s := range w.Substitutions {
			Walk(s, fn)
		}
	}
}

func walkRedirects(rs []Redirect, fn func(Node) bool) {
	for _, r := range rs {
		walkWords([]Word{r.Target}, fn)
		if r.Heredoc != nil {
			walkWords([]Word{*r.Heredoc}, fn)
		}
	}
}
