package shell

import (
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// braceExpansion matches {a,b} and {1..9} forms in unquoted text.
var braceExpansion = regexp.MustCompile(`\{[^{}]*(,|\.\.)[^{}]*\}`)

func (c *converter) words(ws []*syntax.Word, depth int) ([]Word, error) {
	out := make([]Word, 0, len(ws))
	for _, w := range ws {
		cw, err := c.word(w, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, cw)
	}
	return out, nil
}

func (c *converter) word(w *syntax.Word, depth int) (Word, error) {
	out := Word{Raw: c.raw(w), Static: true}
	var value strings.Builder
	if err := c.parts(&out, &value, w.Parts, false, depth); err != nil {
		return Word{}, err
	}
	if out.Static {
		out.Value = value.String()
	}
	return out, nil
}

func (c *converter) parts(out *Word, value *strings.Builder, parts []syntax.WordPart, quoted bool, depth int) error {
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			if quoted {
				value.WriteString(unescapeDouble(p.Value))
				continue
			}
			text, glob := unescape(p.Value)
			value.WriteString(text)
			if glob {
				out.Expansions |= ExpandGlob
			}
			if braceExpansion.MatchString(p.Value) {
				out.Expansions |= ExpandBrace
				out.Static = false
			}

		case *syntax.SglQuoted:
			if p.Dollar {
				out.Expansions |= ExpandANSIQuote
				out.Static = false
				continue
			}
			value.WriteString(p.Value)

		case *syntax.DblQuoted:
			if err := c.parts(out, value, p.Parts, true, depth); err != nil {
				return err
			}

		case *syntax.ParamExp, *syntax.ArithmExp:
			ew, err := c.exprWord(p, depth)
			if err != nil {
				return err
			}
			out.Static = false
			out.Expansions |= ew.Expansions
			out.Substitutions = append(out.Substitutions, ew.Substitutions...)

		case *syntax.CmdSubst:
			s, err := c.cmdSubst(p, depth)
			if err != nil {
				return err
			}
			out.Static = false
			out.Expansions |= ExpandCommand
			out.Substitutions = append(out.Substitutions, s)

		case *syntax.ProcSubst:
			s, err := c.procSubst(p, depth)
			if err != nil {
				return err
			}
			out.Static = false
			out.Expansions |= ExpandProcess
			out.Substitutions = append(out.Substitutions, s)

		case *syntax.ExtGlob:
			out.Expansions |= ExpandGlob
			value.WriteString(c.raw(p))

		case *syntax.BraceExp:
			out.Expansions |= ExpandBrace
			out.Static = false

		default:
			return newParseError(ErrUnsupported, c.offset(p), "unsupported word part %T", p)
		}
	}
	return nil
}

// unescape removes backslash escapes from unquoted text and reports
// whether an unescaped glob metacharacter remains.
func unescape(s string) (string, bool) {
	if !strings.ContainsAny(s, `\*?[`) {
		return s, false
	}
	var sb strings.Builder
	glob := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s):
			i++
			if s[i] != '\n' {
				sb.WriteByte(s[i])
			}
			continue
		case ch == '*' || ch == '?' || ch == '[':
			glob = true
		}
		sb.WriteByte(ch)
	}
	return sb.String(), glob
}

// unescapeDouble applies the escapes that are meaningful inside double
// quotes.
func unescapeDouble(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '$', '`', '"', '\\':
				sb.WriteByte(s[i+1])
				i++
				continue
			case '\n':
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
