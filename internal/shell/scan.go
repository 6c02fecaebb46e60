package shell

// MaxCommandBytes bounds the input handed to the shell grammar. Longer
// commands are refused rather than analysed.
const MaxCommandBytes = 64 << 10

// MaxDepthLimit caps any configured nesting bound.
const MaxDepthLimit = 256

// maxOperatorRun bounds chains of prefix operators such as "- - - 1" or
// "!!!!x", which the arithmetic grammar parses one level per operator.
const maxOperatorRun = 1024

// scanLimit is the bracket nesting admitted by precheck for a parser that
// may still descend levels deeper. One nesting level of the tree never
// spans more than a few brackets.
func scanLimit(levels int) int {
	if levels < 0 {
		levels = 0
	}
	return 4*levels + 16
}

type scanFrame byte

const (
	frameParen scanFrame = iota
	frameBrace
	frameBracket
	frameQuote
	frameTick
)

// precheck runs in one pass, without recursion, before the grammar sees
// command. It refuses input long or nested enough to drive the grammar's
// recursive descent past what depth levels can hold, so the grammar is
// never asked to parse it.
func (p *Parser) precheck(command string, depth int) error {
	if len(command) > MaxCommandBytes {
		return newParseError(ErrTooLong, -1, "command is %d bytes, more than the %d that can be analysed", len(command), MaxCommandBytes)
	}
	limit := scanLimit(p.maxDepth - depth)

	var stack []scanFrame
	nest, run := 0, 0
	push := func(f scanFrame, at int) error {
		stack = append(stack, f)
		if f != frameQuote {
			nest++
			if nest > limit {
				return newParseError(ErrTooDeep, at, "nesting exceeds maximum depth of %d", p.maxDepth)
			}
		}
		return nil
	}
	pop := func(f scanFrame) {
		if len(stack) == 0 || stack[len(stack)-1] != f {
			return
		}
		stack = stack[:len(stack)-1]
		if f != frameQuote {
			nest--
		}
	}

	for i := 0; i < len(command); i++ {
		ch := command[i]
		if ch == '\\' {
			i++
			run = 0
			continue
		}

		if len(stack) > 0 && stack[len(stack)-1] == frameQuote {
			var err error
			switch {
			case ch == '"':
				pop(frameQuote)
			case ch == '`':
				err = push(frameTick, i)
			case ch == '$' && i+1 < len(command) && command[i+1] == '(':
				i++
				err = push(frameParen, i)
			case ch == '$' && i+1 < len(command) && command[i+1] == '{':
				i++
				err = push(frameBrace, i)
			}
			if err != nil {
				return err
			}
			continue
		}

		switch ch {
		case '-', '+', '!', '~':
			run++
			if run > maxOperatorRun {
				return newParseError(ErrTooDeep, i, "operator chain longer than %d", maxOperatorRun)
			}
			continue
		case ' ', '\t':
			continue
		}
		run = 0

		var err error
		switch ch {
		case '\'':
			i = skipSingleQuoted(command, i)
		case '"':
			err = push(frameQuote, i)
		case '`':
			if len(stack) > 0 && stack[len(stack)-1] == frameTick {
				pop(frameTick)
			} else {
				err = push(frameTick, i)
			}
		case '#':
			if i == 0 || isWordBreak(command[i-1]) {
				for i < len(command) && command[i] != '\n' {
					i++
				}
			}
		case '(':
			err = push(frameParen, i)
		case '{':
			err = push(frameBrace, i)
		case '[':
			err = push(frameBracket, i)
		case ')':
			pop(frameParen)
		case '}':
			pop(frameBrace)
		case ']':
			pop(frameBracket)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// skipSingleQuoted returns the index of the quote closing the single-quoted
// string opened at open. A $'...' string honours backslash escapes.
func skipSingleQuoted(s string, open int) int {
	ansi := open > 0 && s[open-1] == '$'
	for i := open + 1; i < len(s); i++ {
		switch {
		case ansi && s[i] == '\\':
			i++
		case s[i] == '\'':
			return i
		}
	}
	return len(s)
}

func isWordBreak(b byte) bool {
	switch b {
	case ' ', '\t', '\n', ';', '&', '|', '(', ')', '<', '>':
		return true
	}
	return false
}
