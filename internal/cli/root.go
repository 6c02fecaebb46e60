package cli

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/gzhole/bashguard/internal/config"
	"github.com/gzhole/bashguard/internal/logger"
)

var (
	workspaceFlag   string
	configDirFlag   string
	profilesDirFlag string
	settingsFlag    string
	logLevelFlag    string
	stateDBFlag     string

	cfg  config.Config
	diag = logger.NewDiagnostics(nil, "warn")
)

var rootCmd = &cobra.Command{
	Use:   "bashguard",
	Short: "bashguard - policy checks for shell commands run by AI agents",
	Long: `bashguard decides whether a shell command proposed by an AI coding agent
may run, must be confirmed by the user, or is denied. Commands are parsed,
never executed: every program the command would start, including those in
pipelines, substitutions and nested shells, is checked against the workspace
policy and the most restrictive decision wins.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadSettings,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&workspaceFlag, "workspace", "", "Project root (default: current directory)")
	pf.StringVar(&configDirFlag, "config-dir", "", "Workspace policy directory (default: <workspace>/.bashguard)")
	pf.StringVar(&profilesDirFlag, "profiles-dir", "", "Profile directory (default: ~/.config/bashguard/profiles)")
	pf.StringVar(&settingsFlag, "settings", "", "User settings file (default: ~/.config/bashguard/settings.toml)")
	pf.StringVar(&logLevelFlag, "log-level", "", "Diagnostics level: debug, info, warn or error")
	pf.StringVar(&stateDBFlag, "state-db", "", "Session state database (default: ~/.config/bashguard/state.db)")
}

func loadSettings(cmd *cobra.Command, args []string) error {
	overrides := map[string]any{}
	flags := cmd.Flags()
	for _, f := range []struct {
		name, key string
		val       *string
	}{
		{"config-dir", "config_dir", &configDirFlag},
		{"profiles-dir", "profiles_dir", &profilesDirFlag},
		{"log-level", "log_level", &logLevelFlag},
		{"state-db", "state_db", &stateDBFlag},
	} {
		if flags.Changed(f.name) {
			overrides[f.key] = *f.val
		}
	}

	loaded, err := config.Load(config.LoadOptions{
		Workspace:     workspaceFlag,
		SettingsPath:  settingsFlag,
		FlagOverrides: overrides,
	})
	if err != nil {
		return err
	}
	cfg = loaded
	diag = logger.NewDiagnostics(cmd.ErrOrStderr(), cfg.LogLevel)
	diag.Debug("settings loaded", "workspace", cfg.Workspace, "config_dir", cfg.ConfigDir)
	return nil
}

// Diagnostics returns the logger configured for the running command.
func Diagnostics() *log.Logger { return diag }

func Execute() error {
	return rootCmd.Execute()
}
