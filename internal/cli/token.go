package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:     "token",
	Aliases: []string{"otp"},
	Short:   "Show the API access token",
	Long: `Show the access token of the running server.

Use this when you've scrolled past the startup message.

Example:
  abacus token
  curl -H "Authorization: Bearer $(abacus token -q)" localhost:8080/api/experiments`,
	RunE: runToken,
}

var tokenQuiet bool

func init() {
	tokenCmd.Flags().BoolVarP(&tokenQuiet, "quiet", "q", false, "print only the token")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(getTokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: abacus serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: abacus serve")
	}

	if tokenQuiet {
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "API token: %s\n", token)
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Send it as 'Authorization: Bearer <token>' or once as ?token=<token>.")
	return nil
}
