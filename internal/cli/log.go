package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/bashguard/internal/logger"
)

var (
	logSession        string
	logFilterDecision string
	logLast           int
	logSummary        bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the decision log",
	Long: `View decisions logged for this workspace. Logging is enabled with
log_decisions = true in .bashguard/config.toml or BASHGUARD_LOG_DECISIONS=1.

Examples:
  bashguard log                        # all sessions
  bashguard log --session abc123       # one session
  bashguard log --last 20              # last 20 entries
  bashguard log --decision deny        # only denied commands
  bashguard log --summary              # counts per decision`,
	Args: cobra.NoArgs,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logSession, "session", "", "Show only this session")
	logCmd.Flags().StringVar(&logFilterDecision, "decision", "", "Filter by decision (allow, ask, deny)")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	sl := logger.New(cfg.LogDir)

	var (
		events []logger.DecisionEvent
		err    error
	)
	if logSession != "" {
		events, err = sl.ReadSession(logSession)
	} else {
		events, err = sl.ReadAll()
	}
	if err != nil {
		return fmt.Errorf("failed to read decision log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintf(out, "No decisions logged in %s.\n", cfg.LogDir)
		return nil
	}

	filtered := filterEvents(events, logFilterDecision)
	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(out, events)
		return nil
	}
	printEvents(out, filtered)
	return nil
}

func filterEvents(events []logger.DecisionEvent, decision string) []logger.DecisionEvent {
	if decision == "" {
		return events
	}
	if strings.EqualFold(decision, "prompt") {
		decision = "ask"
	}
	var filtered []logger.DecisionEvent
	for _, e := range events {
		if strings.EqualFold(e.Decision, decision) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func printEvents(w io.Writer, events []logger.DecisionEvent) {
	for _, e := range events {
		fmt.Fprintf(w, "%s %-5s %s\n", formatTimestamp(e.Timestamp), strings.ToUpper(e.Decision), e.Command)
		if e.Reason != "" {
			fmt.Fprintf(w, "     Reason:  %s\n", e.Reason)
		}
		if e.RuleID != "" {
			fmt.Fprintf(w, "     Rule:    %s\n", e.RuleID)
		}
		fmt.Fprintf(w, "     Session: %s\n", e.SessionID)
		if e.Cwd != "" {
			fmt.Fprintf(w, "     Cwd:     %s\n", e.Cwd)
		}
		fmt.Fprintln(w)
	}
}

func printSummary(w io.Writer, events []logger.DecisionEvent) {
	counts := map[string]int{}
	sessions := map[string]bool{}
	cached := 0
	for _, e := range events {
		counts[e.Decision]++
		sessions[e.SessionID] = true
		if e.Cached {
			cached++
		}
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintln(w, "  bashguard decision summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintf(w, "  Decisions:       %d in %d sessions\n", len(events), len(sessions))
	fmt.Fprintf(w, "  allow:           %d (%d from approvals)\n", counts["allow"], cached)
	fmt.Fprintf(w, "  ask:             %d\n", counts["ask"])
	fmt.Fprintf(w, "  deny:            %d\n", counts["deny"])
	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintf(w, "  First decision:  %s\n", formatTimestamp(events[0].Timestamp))
	fmt.Fprintf(w, "  Last decision:   %s\n", formatTimestamp(events[len(events)-1].Timestamp))

	var denied []logger.DecisionEvent
	for _, e := range events {
		if e.Decision == "deny" {
			denied = append(denied, e)
		}
	}
	if len(denied) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Denied commands:")
		if len(denied) > 10 {
			denied = denied[len(denied)-10:]
		}
		for _, e := range denied {
			fmt.Fprintf(w, "    %s %s\n", formatTimestamp(e.Timestamp), e.Command)
		}
	}
	fmt.Fprintln(w)
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
