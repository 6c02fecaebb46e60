package shell

import "fmt"

// ParseErrorKind classifies why a command could not be parsed.
type ParseErrorKind string

const (
	ErrSyntax      ParseErrorKind = "syntax"
	ErrUnsupported ParseErrorKind = "unsupported"
	ErrTooDeep     ParseErrorKind = "too-deep"
	ErrTooLong     ParseErrorKind = "too-long"
	ErrSmuggling   ParseErrorKind = "smuggling"
)

// ParseError is returned for any input the parser cannot turn into a
// complete tree. Callers must treat it as a denial.
type ParseError struct {
	Kind   ParseErrorKind
	Reason string
	Offset int // byte offset into the command, -1 when unknown
	Err    error
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s (at byte %d)", e.Reason, e.Offset)
	}
	return e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(kind ParseErrorKind, offset int, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Reason: fmt.Sprintf(format, args...), Offset: offset}
}
