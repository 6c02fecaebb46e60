package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/bashguard/internal/policy"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the workspace policy and the profiles it activates",
	Long: `Loads the workspace configuration and every profile it activates and
reports all problems at once. Exits non-zero when the policy is invalid.

  bashguard validate
  bashguard validate --file ./candidate.toml`,
	Args: cobra.NoArgs,
	RunE: validateCommand,
}

func init() {
	validateCmd.Flags().StringVar(&validateFile, "file", "", "Validate a single configuration file's inline rules instead of the workspace")
	rootCmd.AddCommand(validateCmd)
}

func validateCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var (
		m      *policy.Model
		source string
		err    error
	)
	if validateFile != "" {
		source = validateFile
		var c *policy.Config
		if c, err = policy.LoadFile(validateFile); err == nil {
			m, err = policy.Load(c.Rules, c.Settings)
		}
	} else {
		loader := policy.Loader{ConfigDir: cfg.ConfigDir, ProfilesDir: cfg.ProfilesDir}
		source = cfg.ConfigDir
		m, _, err = loader.Load()
	}

	if err != nil {
		var ce *policy.ConfigError
		if errors.As(err, &ce) {
			fmt.Fprintf(out, "Invalid policy (%d problems):\n", len(ce.Problems))
			for _, p := range ce.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
		}
		return err
	}

	counts := map[policy.Decision]int{}
	for _, r := range m.Rules() {
		counts[r.Action]++
	}
	fmt.Fprintf(out, "Policy OK: %s\n", source)
	fmt.Fprintf(out, "  rules:   %d (%d allow, %d ask, %d deny)\n", len(m.Rules()),
		counts[policy.DecisionAllow], counts[policy.DecisionAsk], counts[policy.DecisionDeny])
	fmt.Fprintf(out, "  default: %s\n", m.DefaultAction())
	return nil
}
