package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/abacus-exp/abacus/internal/server"
	"github.com/abacus-exp/abacus/internal/store"
	"github.com/spf13/cobra"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the abacus HTTP API server.

The server provides:
  - Experiment list and detail
  - Health indicators and recommendations per experiment
  - Snapshot import (POST /api/experiments)
  - Health check endpoint

API requests need the access token, shown at startup and by 'abacus token'.

Example:
  abacus serve --port 8080`,
	RunE: runServe,
}

func init() {
	defaultPort := 8080
	if p := os.Getenv("ABACUS_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withStore(func(s *store.SQLiteStore) error {
		srv := server.New(s, port, getTokenFilePath())

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "abacus running on http://localhost:%d\n", port)
		fmt.Fprintf(out, "API token: %s\n", srv.Token())
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		return srv.Start(ctx)
	})
}

// getTokenFilePath returns the path to the token file
func getTokenFilePath() string {
	if path := os.Getenv("ABACUS_TOKEN_FILE"); path != "" {
		return path
	}
	// Store token file alongside the database
	return filepath.Join(filepath.Dir(dbPath), ".abacus-token")
}
