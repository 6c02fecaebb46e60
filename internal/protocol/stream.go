package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gzhole/bashguard/internal/session"
)

// Stream events. A line without an event is an evaluation request.
const (
	EventEvaluate = "evaluate"
	EventApprove  = "approve"
	EventEnd      = "end"
)

// Message is one decoded stream line.
type Message struct {
	Line    int
	Event   string
	Request Request
}

// StreamReader decodes newline-delimited requests.
type StreamReader struct {
	sc   *bufio.Scanner
	line int
}

func NewStreamReader(r io.Reader) *StreamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxRequestSize)
	return &StreamReader{sc: sc}
}

// Next returns the next message. A malformed line yields a *ProtocolError
// and reading may continue; io.EOF ends the stream.
func (s *StreamReader) Next() (Message, error) {
	for s.sc.Scan() {
		s.line++
		data := bytes.TrimSpace(s.sc.Bytes())
		if len(data) == 0 {
			continue
		}
		msg, err := decodeLine(data)
		msg.Line = s.line
		if pe, ok := err.(*ProtocolError); ok {
			pe.Line = s.line
		}
		return msg, err
	}
	if err := s.sc.Err(); err != nil {
		return Message{}, &ProtocolError{Line: s.line + 1, Reason: "reading stream", Err: err}
	}
	return Message{}, io.EOF
}

func decodeLine(data []byte) (Message, error) {
	var head struct {
		Event     string `json:"event"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Message{}, &ProtocolError{Reason: "invalid JSON", Err: err}
	}

	msg := Message{Event: head.Event}
	switch head.Event {
	case "", EventEvaluate:
		msg.Event = EventEvaluate
	case EventApprove:
	case EventEnd:
		msg.Request.SessionID = head.SessionID
		if msg.Request.SessionID == "" {
			msg.Request.SessionID = session.UnknownID
		}
		return msg, nil
	default:
		return msg, &ProtocolError{Reason: fmt.Sprintf("unknown event %q", head.Event)}
	}

	req, err := decode(data)
	if err != nil {
		return msg, err
	}
	msg.Request = req
	return msg, nil
}

// Ack answers an approve or end event.
type Ack struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Command   string `json:"command,omitempty"`
	Recorded  bool   `json:"recorded"`
	Error     string `json:"error,omitempty"`
}

func EncodeAck(w io.Writer, a Ack) error {
	return writeJSON(w, a)
}

// EncodeError writes err as a single JSON line.
func EncodeError(w io.Writer, err error) error {
	return writeJSON(w, struct {
		Error string `json:"error"`
	}{err.Error()})
}
