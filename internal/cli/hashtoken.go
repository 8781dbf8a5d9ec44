package cli

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var hashTokenValue string

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token",
	Short: "Print the SHA-256 of a bypass secret",
	Long: `Print the SHA-256 of a bypass secret.

Reads the secret from --token or, when absent, a single line from stdin.
The printed lowercase hex digest is what goes into the policy's tokens
list; the plaintext secret is handed to developers out of band.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := hashTokenValue
		if secret == "" {
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret from stdin: %w", err)
			}
			secret = strings.TrimRight(line, "\r\n")
		}
		if secret == "" {
			return fmt.Errorf("empty secret")
		}

		sum := sha256.Sum256([]byte(secret))
		fmt.Println(hex.EncodeToString(sum[:]))
		return nil
	},
}

func init() {
	hashTokenCmd.Flags().StringVar(&hashTokenValue, "token", "", "secret to hash (omit to read stdin)")
	rootCmd.AddCommand(hashTokenCmd)
}
