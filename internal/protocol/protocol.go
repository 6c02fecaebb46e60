// Package protocol translates between agent hook payloads and verdicts.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gzhole/bashguard/internal/engine"
	"github.com/gzhole/bashguard/internal/policy"
	"github.com/gzhole/bashguard/internal/session"
)

// MaxRequestSize bounds a request body.
const MaxRequestSize = 1 << 20

// Format selects the response shape expected by the caller.
type Format string

const (
	FormatClaude   Format = "claude"
	FormatOpenCode Format = "opencode"
	FormatJSON     Format = "json"
	FormatText     Format = "text"
)

// Formats lists the supported formats.
var Formats = []Format{FormatClaude, FormatOpenCode, FormatJSON, FormatText}

// ParseFormat accepts a format name in any case. "claude-code" is an alias
// for claude.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claude", "claude-code":
		return FormatClaude, nil
	case "opencode":
		return FormatOpenCode, nil
	case "json":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	}
	return "", &ProtocolError{Reason: fmt.Sprintf("unknown format %q (want claude, opencode, json or text)", s)}
}

// Request is a decoded hook payload.
//
// Accepted shapes:
//
//	{"session_id": "...", "command": "..."}
//	{"session_id": "...", "tool_input": {"command": "..."}}   (Claude Code, OpenCode)
//	{"tool_info": {"command_line": "...", "cwd": "..."}}      (Windsurf)
type Request struct {
	SessionID     string
	Command       string
	Cwd           string
	HookEventName string
	ToolName      string
}

type wireRequest struct {
	SessionID     string         `json:"session_id"`
	Command       *string        `json:"command"`
	Cwd           string         `json:"cwd"`
	HookEventName string         `json:"hook_event_name"`
	ToolName      string         `json:"tool_name"`
	ToolInput     *wireToolInput `json:"tool_input"`
	ToolInfo      *wireToolInfo  `json:"tool_info"`
}

type wireToolInput struct {
	Command *string `json:"command"`
}

type wireToolInfo struct {
	CommandLine *string `json:"command_line"`
	Cwd         string  `json:"cwd"`
}

// DecodeRequest reads one request body from r.
func DecodeRequest(r io.Reader) (Request, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxRequestSize+1))
	if err != nil {
		return Request{}, &ProtocolError{Reason: "reading request", Err: err}
	}
	if len(data) > MaxRequestSize {
		return Request{}, &ProtocolError{Reason: fmt.Sprintf("request exceeds %d bytes", MaxRequestSize)}
	}
	return decode(data)
}

func decode(data []byte) (Request, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Request{}, &ProtocolError{Reason: "empty request"}
	}
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return Request{}, &ProtocolError{Reason: "invalid JSON", Err: err}
	}

	req := Request{
		SessionID:     w.SessionID,
		Cwd:           w.Cwd,
		HookEventName: w.HookEventName,
		ToolName:      w.ToolName,
	}
	switch {
	case w.ToolInput != nil && w.ToolInput.Command != nil:
		req.Command = *w.ToolInput.Command
	case w.Command != nil:
		req.Command = *w.Command
	case w.ToolInfo != nil && w.ToolInfo.CommandLine != nil:
		req.Command = *w.ToolInfo.CommandLine
		if req.Cwd == "" {
			req.Cwd = w.ToolInfo.Cwd
		}
	default:
		return Request{}, &ProtocolError{Reason: "request has no command"}
	}
	if req.SessionID == "" {
		req.SessionID = session.UnknownID
	}
	return req, nil
}

// Engine converts the request for evaluation.
func (r Request) Engine() engine.Request {
	return engine.Request{SessionID: r.SessionID, Command: r.Command, WorkingDir: r.Cwd}
}

type claudeOutput struct {
	HookSpecificOutput claudeHookOutput `json:"hookSpecificOutput"`
}

type claudeHookOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

type openCodeOutput struct {
	Abort string `json:"abort,omitempty"`
}

type jsonOutput struct {
	Decision policy.Decision `json:"decision"`
	Reason   string          `json:"reason,omitempty"`
	RuleID   string          `json:"rule_id,omitempty"`
}

// Encode writes v in format f as a single line.
func Encode(w io.Writer, f Format, v engine.Verdict) error {
	reason := reasonFor(v)
	switch f {
	case FormatClaude:
		return writeJSON(w, claudeOutput{HookSpecificOutput: claudeHookOutput{
			HookEventName:            "PreToolUse",
			PermissionDecision:       string(v.Decision),
			PermissionDecisionReason: reason,
		}})
	case FormatOpenCode:
		out := openCodeOutput{}
		if v.Decision != policy.DecisionAllow {
			out.Abort = reason
		}
		return writeJSON(w, out)
	case FormatJSON:
		return writeJSON(w, jsonOutput{Decision: v.Decision, Reason: reason, RuleID: v.RuleID})
	case FormatText:
		var line string
		switch v.Decision {
		case policy.DecisionAllow:
			line = "ALLOW"
		case policy.DecisionAsk:
			line = "ASK: " + reason
		default:
			line = "DENY: " + reason
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
	return &ProtocolError{Reason: fmt.Sprintf("unknown format %q", f)}
}

// reasonFor guarantees a non-empty reason for every blocking verdict.
func reasonFor(v engine.Verdict) string {
	if v.Reason != "" || v.Decision == policy.DecisionAllow {
		return v.Reason
	}
	if v.Decision == policy.DecisionAsk {
		return "command requires confirmation"
	}
	return "command denied by policy"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
