package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/pkg/color"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the hook policy",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a policy document",
	Long: `Validate a policy document.

With no argument, validates the repository's config/hook_policy.json.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pol *policy.Policy
		var warnings []string
		var err error

		if len(args) == 1 {
			data, readErr := os.ReadFile(args[0])
			if readErr != nil {
				return readErr
			}
			pol, warnings, err = policy.Parse(data)
		} else {
			r := requireRepo()
			pol, warnings, err = policy.Load(r.Root)
		}
		if err != nil {
			fmtErr("%v", err)
			os.Exit(1)
		}

		for _, w := range warnings {
			fmt.Printf("%s %s\n", color.Warning("warning:"), w)
		}
		fmt.Printf("%s policy v%d: %d locked, %d restricted, %d deletion-protected entries\n",
			color.Success("ok:"), pol.Version, len(pol.Locked), len(pol.Restricted), len(pol.DeletionProtected))
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyValidateCmd)
	rootCmd.AddCommand(policyCmd)
}
