package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/bashguard/internal/engine"
	"github.com/gzhole/bashguard/internal/protocol"
)

var (
	approveSession string
	approveCommand string
	approveCwd     string
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Record that the user confirmed a command in a session",
	Long: `Records an approval so that later ask verdicts for exactly this command in
the session and working directory become allow. Commands the policy
denies there cannot be approved.

  bashguard approve --session abc123 -c 'make deploy' --cwd /src/app`,
	Args: cobra.NoArgs,
	RunE: approveCommandRun,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a confirmation from a PostToolUse hook payload",
	Long: `Reads a PostToolUse hook payload from stdin. A command that ran although
its last verdict in the session was ask was confirmed by the user, so the
confirmation is recorded for the rest of the session. Other payloads are
ignored.`,
	Args: cobra.NoArgs,
	RunE: recordCommand,
}

func init() {
	approveCmd.Flags().StringVar(&approveSession, "session", "", "Session id")
	approveCmd.Flags().StringVarP(&approveCommand, "command", "c", "", "Command exactly as the agent proposed it")
	approveCmd.Flags().StringVar(&approveCwd, "cwd", "", "Working directory the command runs in (default: workspace)")
	_ = approveCmd.MarkFlagRequired("session")
	_ = approveCmd.MarkFlagRequired("command")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(recordCmd)
}

func approveCommandRun(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()
	if a.state == nil {
		return fmt.Errorf("session state database %q is unavailable; the approval would not outlive this process", cfg.StateDB)
	}

	ap, err := a.approve(cmd.Context(), approveSession, approveCommand, approveCwd)
	if errors.Is(err, engine.ErrDenied) {
		return fmt.Errorf("%q: %w", approveCommand, err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Approved for session %s: %s (in %s)\n", approveSession, ap.Command, ap.WorkingDir)
	return nil
}

func recordCommand(cmd *cobra.Command, args []string) error {
	req, err := protocol.DecodeRequest(cmd.InOrStdin())
	if err != nil {
		return err
	}
	a, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	_, ok, err := a.confirm(cmd.Context(), req.SessionID, req.Command, req.Cwd)
	if err != nil {
		if errors.Is(err, engine.ErrDenied) {
			diag.Warn("denied command reported as run", "session", req.SessionID)
			return nil
		}
		return err
	}
	diag.Debug("post tool use", "session", req.SessionID, "recorded", ok)
	return nil
}
