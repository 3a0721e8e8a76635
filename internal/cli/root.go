// Package cli implements nanodbctl's command surface: serve, bootstrap,
// and schema export/import. Built with cobra.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	addr                string
	sqlitePath          string
	signingKeyEnv       string
	rateLimitConfigPath string
	logLevel            string
	logFormat           string
)

// rootCmd is the base command for nanodbctl.
var rootCmd = &cobra.Command{
	Use:   "nanodbctl",
	Short: "Operate a nanodb instance",
	Long: `nanodbctl runs and administers a nanodb instance: an embedded,
KV-backed backend-as-a-service with schema-validated collections, secondary
indexing, optimistic-concurrency updates, and realtime change notifications.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "db", "", "path to the SQLite substrate file (empty uses an in-memory store)")
	rootCmd.PersistentFlags().StringVar(&signingKeyEnv, "signing-key-env", "NANODB_SIGNING_KEY", "environment variable holding the JWT signing key")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json/text)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(schemaCmd)
}
