package protocol

import "fmt"

// ProtocolError reports a malformed request or an unsupported format. It
// is never a security verdict.
type ProtocolError struct {
	Line   int // 1-based line in stream mode, 0 otherwise
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := e.Reason
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "protocol error: " + msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
