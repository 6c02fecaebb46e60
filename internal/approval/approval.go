// Package approval asks the user at a terminal to confirm a command that
// the policy wants confirmed.
package approval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type Result struct {
	Approved   bool
	UserAction string
}

const (
	ActionApprove        = "approve_once"
	ActionDeny           = "deny"
	ActionNonInteractive = "auto_deny_non_interactive"
	ActionReadError      = "error_reading_input"
)

type Prompt struct {
	Command string
	Reason  string
	RuleID  string
}

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// Render returns the prompt box shown before asking.
func Render(p Prompt) string {
	lines := []string{
		titleStyle.Render("CONFIRMATION REQUIRED"),
		"",
		"Command: " + p.Command,
	}
	if p.Reason != "" {
		lines = append(lines, "Reason:  "+p.Reason)
	}
	if p.RuleID != "" {
		lines = append(lines, dimStyle.Render("Rule:    "+p.RuleID))
	}
	lines = append(lines, "",
		"  [a] Approve for this session",
		"  [d] Deny")
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// Ask shows p on out and reads the answer from in until it gets a valid one.
func Ask(in io.Reader, out io.Writer, p Prompt) Result {
	fmt.Fprintln(out, Render(p))

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Your choice [a/d]: ")
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return Result{Approved: false, UserAction: ActionReadError}
		}

		switch strings.TrimSpace(strings.ToLower(input)) {
		case "a", "approve", "yes", "y":
			return Result{Approved: true, UserAction: ActionApprove}
		case "d", "deny", "no", "n":
			return Result{Approved: false, UserAction: ActionDeny}
		}
		if err != nil {
			return Result{Approved: false, UserAction: ActionReadError}
		}
		fmt.Fprintln(out, "Invalid input. Please enter 'a' to approve or 'd' to deny.")
	}
}

// AskTerminal asks on stdin/stderr, denying without asking when stdin is
// not a terminal.
func AskTerminal(p Prompt) Result {
	if !IsInteractive(os.Stdin) {
		return Result{Approved: false, UserAction: ActionNonInteractive}
	}
	return Ask(os.Stdin, os.Stderr, p)
}
