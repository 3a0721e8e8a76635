package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bridevmx/nanodb/internal/app"
	"github.com/bridevmx/nanodb/internal/obs/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and block until terminated",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", ":8090", "HTTP listen address")
	serveCmd.Flags().StringVar(&rateLimitConfigPath, "rate-limit-config", "", "path to a YAML rate-limit config, watched for changes (empty disables rate limiting)")
}

// RunServe builds an Application from the process's flags/environment and
// serves HTTP traffic until SIGINT/SIGTERM, then drains the write buffer
// and closes the substrate.
func RunServe() error {
	application, err := app.New(app.Config{
		Addr:                addr,
		SQLitePath:          sqlitePath,
		SigningKey:          []byte(os.Getenv(signingKeyEnv)),
		RateLimitConfigPath: rateLimitConfigPath,
		LogLevel:            logLevel,
		LogFormat:           logFormat,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		return err
	}
	application.Logger.Info(ctx, "nanodb listening", map[string]interface{}{"addr": addr})

	var stopErr error
	gs := middleware.NewGracefulShutdown(nil, 20*time.Second)
	gs.OnShutdown(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		stopErr = application.Stop(stopCtx)
	})
	gs.ListenForSignals()
	gs.Wait()

	return stopErr
}
