package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvgate-project/dvgate/pkg/errclass"
)

var installForce bool

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the pre-commit hook",
	Long: `Install the pre-commit hook.

Writes .git/hooks/pre-commit as a small shim invoking this binary.
An existing hook that does not belong to dvgate is left alone unless
--force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := requireRepo()

		hookDir := filepath.Join(r.GitDir, "hooks")
		hookPath := filepath.Join(hookDir, "pre-commit")

		if data, err := os.ReadFile(hookPath); err == nil {
			if !strings.Contains(string(data), "dvgate") && !installForce {
				return errclass.ErrHookExists.WithMessagef(
					"existing pre-commit hook at %s is not dvgate's; use --force to replace", hookPath)
			}
		}

		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}

		shim := fmt.Sprintf("#!/bin/sh\n# installed by dvgate\nexec %q \"$@\"\n", exe)
		if err := os.MkdirAll(hookDir, 0755); err != nil {
			return fmt.Errorf("create hooks dir: %w", err)
		}
		if err := os.WriteFile(hookPath, []byte(shim), 0755); err != nil {
			return fmt.Errorf("write hook: %w", err)
		}

		fmt.Printf("installed pre-commit hook at %s\n", hookPath)
		return nil
	},
}

func init() {
	installCmd.Flags().BoolVar(&installForce, "force", false, "replace a foreign pre-commit hook")
	rootCmd.AddCommand(installCmd)
}
