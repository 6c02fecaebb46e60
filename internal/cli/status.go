package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gzhole/bashguard/internal/policy"
	"github.com/gzhole/bashguard/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bashguard status: policy, profiles, hooks, session state, logs",
	Long: `Check whether bashguard is active in this workspace: whether the policy
loads, which agent integrations are installed and where state and logs live.

  bashguard status`,
	Args: cobra.NoArgs,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w, "  bashguard status")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintf(w, "  Version:   %s\n", Version)
	fmt.Fprintf(w, "  Workspace: %s\n", cfg.Workspace)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "─── Policy ────────────────────────────────────────────")
	checkPolicy(w)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "─── Agent Hooks ───────────────────────────────────────")
	checkClaudeHook(w, filepath.Join(cfg.Workspace, ".claude", "settings.local.json"))
	checkFile(w, "OpenCode plugin", filepath.Join(cfg.Workspace, ".opencode", "plugins", "bashguard.ts"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "─── State ─────────────────────────────────────────────")
	checkStateDB(w, cfg.StateDB)
	checkFile(w, "Decision log", cfg.LogDir)
	fmt.Fprintln(w)
	return nil
}

func checkPolicy(w io.Writer) {
	loader := policy.Loader{ConfigDir: cfg.ConfigDir, ProfilesDir: cfg.ProfilesDir}
	m, c, err := loader.Load()
	if err != nil {
		fmt.Fprintf(w, "  ❌ Policy invalid: %v\n", err)
		fmt.Fprintln(w, "     Run: bashguard validate")
		return
	}
	_, path, _ := policy.LoadConfig(cfg.ConfigDir)
	if path == "" {
		fmt.Fprintf(w, "  ⚠  No workspace config in %s (every command asks)\n", cfg.ConfigDir)
		fmt.Fprintln(w, "     Run: bashguard init --tool claude")
	} else {
		fmt.Fprintf(w, "  ✅ Config: %s\n", path)
	}
	fmt.Fprintf(w, "     %d rules, default %s\n", len(m.Rules()), m.DefaultAction())
	if c != nil {
		for _, name := range c.Profiles.Builtins {
			fmt.Fprintf(w, "     profile builtin/%s\n", name)
		}
		for _, name := range c.Profiles.Custom {
			fmt.Fprintf(w, "     profile custom/%s\n", name)
		}
	}
	fmt.Fprintf(w, "  Profiles:  %s\n", cfg.ProfilesDir)
}

func checkClaudeHook(w io.Writer, path string) {
	settings, err := readClaudeSettings(path)
	if err != nil {
		fmt.Fprintf(w, "  ❌ Claude Code: %v\n", err)
		return
	}
	hooks, _ := settings["hooks"].(map[string]any)
	pre, _ := hooks["PreToolUse"].([]any)
	post, _ := hooks["PostToolUse"].([]any)
	switch {
	case hasBashguardHook(pre, "PreToolUse") && hasBashguardHook(post, "PostToolUse"):
		fmt.Fprintf(w, "  ✅ Claude Code: hooks installed (%s)\n", path)
	case hasBashguardHook(pre, "PreToolUse"):
		fmt.Fprintf(w, "  ⚠  Claude Code: check hook installed, confirmations are not recorded (%s)\n", path)
	default:
		fmt.Fprintln(w, "  ⬚  Claude Code: not configured")
	}
}

func checkFile(w io.Writer, name, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(w, "  ⬚  %s: not found (%s)\n", name, path)
		return
	}
	fmt.Fprintf(w, "  ✅ %s: %s\n", name, path)
}

func checkStateDB(w io.Writer, path string) {
	if path == "" {
		fmt.Fprintln(w, "  ⚠  Session state: disabled (no state_db)")
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(w, "  ⬚  Session state: not created yet (%s)\n", path)
		return
	}
	st, err := store.Open(path)
	if err != nil {
		fmt.Fprintf(w, "  ❌ Session state: %v\n", err)
		return
	}
	_ = st.Close()
	fmt.Fprintf(w, "  ✅ Session state: %s\n", path)
}
