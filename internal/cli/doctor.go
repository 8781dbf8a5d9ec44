package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvgate-project/dvgate/internal/doctor"
	"github.com/dvgate-project/dvgate/pkg/color"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the gate's health",
	Long: `Check the gate's health.

Verifies that the hook is installed, the policy loads, the access log is
writable, and the ledger is readable with an intact hash chain.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := requireRepo()

		result := doctor.NewDoctor(r).Check()

		if jsonOutput {
			outputJSON(result)
		} else {
			for _, f := range result.Findings {
				mark := color.Warning("warn:")
				if f.Severity == "error" {
					mark = color.Error("error:")
				}
				fmt.Printf("%s [%s] %s\n", mark, f.Category, f.Description)
			}
			if result.Healthy {
				fmt.Printf("%s gate is healthy\n", color.Success("ok:"))
			}
		}

		if !result.Healthy {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
