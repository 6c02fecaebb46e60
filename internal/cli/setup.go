package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/gzhole/bashguard/internal/config"
)

const (
	claudeCheckCommand  = "bashguard check --format claude"
	claudeRecordCommand = "bashguard record"
)

const defaultWorkspaceConfig = `# bashguard workspace policy

[profiles]
# Built-in profiles to activate. "bashguard profiles list" shows them all.
builtins = ["general/safe-basics", "general/dangerous", "git/read-only"]

# Custom profiles, relative to the custom/ profile directory.
custom = []

[settings]
# Decision for commands no rule matches: allow, ask or deny.
default_action = "ask"

# Write every decision to .claude/bashguard/logs/<session>.jsonl
log_decisions = true

# Inline rules are defined before profile rules.
# [[rules]]
# id = "no-force-push"
# program = "git"
# subcommands = ["push"]
# flags_present = ["--force"]
# action = "deny"
# message = "force pushes are not allowed"
`

const openCodePlugin = `import type { Plugin } from "@opencode-ai/plugin"
import { execSync } from "child_process"

export const BashguardPlugin: Plugin = async () => {
  return {
    "tool.execute.before": async (input, output) => {
      if (input.tool !== "bash") return

      const command = output.args?.command
      if (typeof command !== "string") return

      let result: string
      try {
        result = execSync("bashguard check --format opencode", {
          input: JSON.stringify({
            session_id: input.sessionID || "opencode-session",
            tool_input: { command },
          }),
          encoding: "utf-8",
          timeout: 5000,
        })
      } catch (error) {
        throw new Error(` + "`[bashguard] check failed: ${error}`" + `)
      }

      const decision = JSON.parse(result)
      if (decision.abort) {
        throw new Error(` + "`[bashguard] ${decision.abort}`" + `)
      }
    },
  }
}

export default BashguardPlugin
`

var (
	initTool  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up bashguard for this repository",
	Long: `Creates .bashguard/config.toml and installs the agent integration:

  bashguard init --tool claude     # PreToolUse/PostToolUse hooks in .claude/settings.local.json
  bashguard init --tool opencode   # .opencode/plugins/bashguard.ts

Existing files are kept; a hook that already runs bashguard is not added twice.`,
	Args: cobra.NoArgs,
	RunE: initCommand,
}

func init() {
	initCmd.Flags().StringVar(&initTool, "tool", "", "Agent to integrate with: claude or opencode")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Initialise even outside a git repository")
	_ = initCmd.MarkFlagRequired("tool")
	rootCmd.AddCommand(initCmd)
}

func initCommand(cmd *cobra.Command, args []string) error {
	tool := strings.ToLower(initTool)
	if tool != "claude" && tool != "opencode" {
		return fmt.Errorf("invalid tool %q: must be claude or opencode", initTool)
	}
	if _, err := os.Stat(filepath.Join(cfg.Workspace, ".git")); err != nil && !initForce {
		return fmt.Errorf("%s is not a git repository; run from the project root or pass --force", cfg.Workspace)
	}

	out := cmd.OutOrStdout()
	if err := config.EnsureDir(cfg.ConfigDir); err != nil {
		return fmt.Errorf("failed to create %s: %w", cfg.ConfigDir, err)
	}
	configPath := filepath.Join(cfg.ConfigDir, "config.toml")
	created, err := writeIfMissing(configPath, defaultWorkspaceConfig, 0o644)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "Created config: %s\n", configPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", configPath)
	}

	switch tool {
	case "claude":
		settingsPath := filepath.Join(cfg.Workspace, ".claude", "settings.local.json")
		added, err := installClaudeHooks(settingsPath)
		if err != nil {
			return err
		}
		if added {
			fmt.Fprintf(out, "Installed hooks in: %s\n", settingsPath)
		} else {
			fmt.Fprintf(out, "Hooks already configured: %s\n", settingsPath)
		}
	case "opencode":
		pluginPath := filepath.Join(cfg.Workspace, ".opencode", "plugins", "bashguard.ts")
		created, err := writeIfMissing(pluginPath, openCodePlugin, 0o644)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "Created plugin: %s\n", pluginPath)
		} else {
			fmt.Fprintf(out, "Plugin already exists: %s\n", pluginPath)
		}
	}

	fmt.Fprintf(out, "\nbashguard initialised for %s.\n\nNext steps:\n", tool)
	fmt.Fprintln(out, "  1. bashguard profiles install-builtins")
	fmt.Fprintf(out, "  2. Edit %s\n", configPath)
	fmt.Fprintln(out, "  3. bashguard test -c 'git status'")
	return nil
}

func writeIfMissing(path, content string, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// installClaudeHooks adds the PreToolUse check hook and the PostToolUse
// record hook for the Bash tool. It reports whether the file changed.
func installClaudeHooks(path string) (bool, error) {
	settings, err := readClaudeSettings(path)
	if err != nil {
		return false, err
	}
	hooks := getOrCreateMap(settings, "hooks")

	changed := false
	for event, command := range map[string]string{
		"PreToolUse":  claudeCheckCommand,
		"PostToolUse": claudeRecordCommand,
	} {
		entries, _ := hooks[event].([]any)
		if hasBashguardHook(entries, event) {
			continue
		}
		hooks[event] = append(entries, map[string]any{
			"matcher": "Bash",
			"hooks":   []any{map[string]any{"type": "command", "command": command}},
		})
		changed = true
	}
	if !changed {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	return true, writeClaudeSettings(path, settings)
}

func hasBashguardHook(entries []any, event string) bool {
	want := "check"
	if event == "PostToolUse" {
		want = "record"
	}
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		subHooks, _ := m["hooks"].([]any)
		for _, h := range subHooks {
			hm, ok := h.(map[string]any)
			if !ok {
				continue
			}
			if command, _ := hm["command"].(string); isBashguardCommand(command, want) {
				return true
			}
		}
	}
	return false
}

// isBashguardCommand reports whether a hook command line runs the given
// bashguard subcommand, e.g. "/usr/local/bin/bashguard check --format claude"
// or "env BASHGUARD_LOG_LEVEL=debug bashguard check".
func isBashguardCommand(line, subcommand string) bool {
	words, err := shellwords.Parse(line)
	if err != nil {
		return false
	}
	for len(words) > 0 && (words[0] == "env" || strings.Contains(words[0], "=")) {
		words = words[1:]
	}
	if len(words) < 2 {
		return false
	}
	return filepath.Base(words[0]) == "bashguard" && words[1] == subcommand
}

func readClaudeSettings(path string) (map[string]any, error) {
	settings := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return settings, nil
}

func writeClaudeSettings(path string, settings map[string]any) error {
	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func getOrCreateMap(parent map[string]any, key string) map[string]any {
	if v, ok := parent[key].(map[string]any); ok {
		return v
	}
	m := make(map[string]any)
	parent[key] = m
	return m
}
