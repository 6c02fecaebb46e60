package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/bashguard/internal/policy"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage rule profiles",
	Long: `Profiles are reusable rule sets stored under the profile directory
(~/.config/bashguard/profiles by default): builtins/ holds the profiles
shipped with bashguard, custom/ your own. A workspace activates them in
.bashguard/config.toml:

  [profiles]
  builtins = ["general/safe-basics", "git/read-only"]
  custom   = ["team/deploy"]

Examples:
  bashguard profiles list
  bashguard profiles install-builtins`,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed and embedded profiles",
	Args:  cobra.NoArgs,
	RunE:  profilesList,
}

var profilesInstallCmd = &cobra.Command{
	Use:   "install-builtins",
	Short: "Copy the built-in profiles into the profile directory",
	Args:  cobra.NoArgs,
	RunE:  profilesInstall,
}

func init() {
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesInstallCmd)
	rootCmd.AddCommand(profilesCmd)
}

func profilesList(cmd *cobra.Command, args []string) error {
	infos, err := policy.ListProfiles(cfg.ProfilesDir)
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	active := activeProfiles()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Profiles:")
	fmt.Fprintln(out, strings.Repeat("─", 60))
	for _, info := range infos {
		mark := " "
		if active[string(info.Kind)+":"+info.Name] {
			mark = "*"
		}
		where := "installed"
		if info.Path == "" {
			where = "embedded"
		}
		fmt.Fprintf(out, " %s %-8s %-28s %s\n", mark, kindLabel(info.Kind), info.Name, info.Description)
		if info.Err != nil {
			fmt.Fprintf(out, "            error: %v\n", info.Err)
			continue
		}
		fmt.Fprintf(out, "            %d rules, %s\n", info.RuleCount, where)
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprintf(out, "* active in this workspace\nProfile directory: %s\n", cfg.ProfilesDir)
	return nil
}

func kindLabel(k policy.ProfileKind) string {
	if k == policy.KindBuiltin {
		return "builtin"
	}
	return "custom"
}

func activeProfiles() map[string]bool {
	active := map[string]bool{}
	c, _, err := policy.LoadConfig(cfg.ConfigDir)
	if err != nil {
		return active
	}
	for _, name := range c.Profiles.Builtins {
		active[string(policy.KindBuiltin)+":"+name] = true
	}
	for _, name := range c.Profiles.Custom {
		active[string(policy.KindCustom)+":"+name] = true
	}
	return active
}

func profilesInstall(cmd *cobra.Command, args []string) error {
	if cfg.ProfilesDir == "" {
		return fmt.Errorf("no profile directory: set --profiles-dir or BASHGUARD_PROFILES_DIR")
	}
	names, err := policy.InstallBuiltins(cfg.ProfilesDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, n := range names {
		fmt.Fprintf(out, "Installed %s\n", n)
	}
	fmt.Fprintf(out, "%d built-in profiles installed to %s\n", len(names), cfg.ProfilesDir)
	return nil
}
