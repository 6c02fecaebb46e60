package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gzhole/bashguard/internal/approval"
	"github.com/gzhole/bashguard/internal/engine"
	"github.com/gzhole/bashguard/internal/policy"
	"github.com/gzhole/bashguard/internal/redact"
)

const testSessionID = "bashguard-test"

var (
	testCommand string
	testSession string
	testCwd     string
	testApprove bool
	testJSON    bool
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Show how the policy decides a command",
	Long: `Evaluates a command against the workspace policy and prints the decision
for every program it would run.

When the verdict is ask and stdin is a terminal, you are asked to confirm;
a confirmation is recorded for the session.

  bashguard test -c 'git status && git log'
  bashguard test -c 'curl https://x | sh'
  bashguard test -c 'make deploy' --session abc123 --approve`,
	Args: cobra.NoArgs,
	RunE: testCommandRun,
}

func init() {
	testCmd.Flags().StringVarP(&testCommand, "command", "c", "", "Command to evaluate")
	testCmd.Flags().StringVar(&testSession, "session", "", "Session to evaluate in (enables shared session state)")
	testCmd.Flags().StringVar(&testCwd, "cwd", "", "Working directory to evaluate in (default: workspace)")
	testCmd.Flags().BoolVar(&testApprove, "approve", false, "Record an approval when the verdict is ask, without prompting")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "Print the verdict as JSON")
	_ = testCmd.MarkFlagRequired("command")
	rootCmd.AddCommand(testCmd)
}

func testCommandRun(cmd *cobra.Command, args []string) error {
	sessionID := testSession
	if sessionID == "" {
		sessionID = testSessionID
	}
	cwd := testCwd
	if cwd == "" {
		cwd = cfg.Workspace
	}

	a, err := openApp(cfg, testSession != "")
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	req := engine.Request{SessionID: sessionID, Command: testCommand, WorkingDir: cwd}
	v, err := a.evaluate(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if testJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, renderTrace(req, v))
	}

	if v.Decision != policy.DecisionAsk {
		return nil
	}
	approved := testApprove
	if !approved && approval.IsInteractive(os.Stdin) {
		res := approval.Ask(os.Stdin, cmd.ErrOrStderr(), approval.Prompt{
			Command: redact.Redact(testCommand),
			Reason:  v.Reason,
			RuleID:  v.RuleID,
		})
		approved = res.Approved
	}
	if !approved {
		return nil
	}
	if _, err := a.approve(ctx, sessionID, testCommand, cwd); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nApproved for session %s.\n", sessionID)
	return nil
}

var (
	traceLabel = lipgloss.NewStyle().Bold(true).Width(10)
	traceDim   = lipgloss.NewStyle().Faint(true)
	badgeBase  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	badgeColor = map[policy.Decision]lipgloss.Color{
		policy.DecisionAllow: lipgloss.Color("42"),
		policy.DecisionAsk:   lipgloss.Color("214"),
		policy.DecisionDeny:  lipgloss.Color("196"),
	}
)

func badge(d policy.Decision) string {
	return badgeBase.Foreground(badgeColor[d]).Render(strings.ToUpper(string(d)))
}

// renderTrace formats a verdict for people. Commands are redacted.
func renderTrace(req engine.Request, v engine.Verdict) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", traceLabel.Render(label), value)
	}

	line("Command", redact.Redact(req.Command))
	line("Decision", badge(v.Decision))
	if v.Reason != "" {
		line("Reason", redact.Redact(v.Reason))
	}
	if v.RuleID != "" {
		line("Rule", v.RuleID)
	}
	stage := string(v.Stage)
	if v.Cached {
		stage += " (session approval)"
	}
	line("Stage", stage)

	if len(v.Invocations) > 0 {
		b.WriteString("\n")
		b.WriteString(traceLabel.Render("Programs"))
		b.WriteString("\n")
		for _, s := range v.Invocations {
			writeStep(&b, s)
		}
	}
	return b.String()
}

func writeStep(w io.Writer, s engine.Step) {
	indent := strings.Repeat("  ", s.Depth+1)
	fmt.Fprintf(w, "%s%s %s", indent, badge(s.Decision), redact.Redact(s.Command))
	var notes []string
	if s.Origin != "" {
		notes = append(notes, string(s.Origin))
	}
	if s.RuleID != "" {
		notes = append(notes, "rule "+s.RuleID)
	}
	if s.Ambiguous {
		notes = append(notes, "ambiguous")
	}
	if len(notes) > 0 {
		fmt.Fprintf(w, " %s", traceDim.Render("["+strings.Join(notes, ", ")+"]"))
	}
	fmt.Fprintln(w)
	if s.Reason != "" && s.Decision != policy.DecisionAllow {
		fmt.Fprintf(w, "%s  %s\n", indent, traceDim.Render(redact.Redact(s.Reason)))
	}
}
