package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvgate-project/dvgate/internal/ledger"
	"github.com/dvgate-project/dvgate/pkg/color"
)

var ledgerVerify bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the bypass ledger",
	Long: `Show the bypass ledger.

Examples:
  dvgate ledger            # list bypass events
  dvgate ledger --json     # raw records
  dvgate ledger --verify   # recompute the hash chain`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := requireRepo()
		store := ledger.NewStore(ledger.DefaultPath(r.GitDir))

		st, err := store.Load()
		if err != nil {
			return err
		}
		if st.Corrupt {
			fmtErr("ledger exists but is not parseable")
			os.Exit(1)
		}

		if ledgerVerify {
			if err := ledger.VerifyChain(st.Records); err != nil {
				fmtErr("%v", err)
				os.Exit(1)
			}
			fmt.Printf("%s %d record(s), chain intact\n", color.Success("ok:"), len(st.Records))
			return nil
		}

		if jsonOutput {
			return outputJSON(st.Records)
		}

		if len(st.Records) == 0 {
			fmt.Println("ledger is empty")
			return nil
		}
		for _, rec := range st.Records {
			result := string(rec.Result)
			if rec.Result == "consumed" {
				result = color.Success(result)
			} else {
				result = color.Error(result)
			}
			fmt.Printf("%s  %-9s %-16s %-12s %s  %s\n",
				rec.Timestamp.Format("2006-01-02 15:04:05"),
				rec.Scope, rec.User, rec.HashPrefix, result, rec.Label)
		}
		return nil
	},
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerVerify, "verify", false, "verify the ledger hash chain")
	rootCmd.AddCommand(ledgerCmd)
}
