package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/bridevmx/nanodb/internal/app"
	"github.com/bridevmx/nanodb/internal/model"
)

var (
	bootstrapEmail    string
	bootstrapPassword string
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the _superusers collection with one administrator record",
	Long: `bootstrap writes a record directly through the engine, bypassing
HTTP and row-level authorization, so it works against a brand new substrate
that has no caller able to authenticate yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bootstrapEmail == "" || bootstrapPassword == "" {
			return fmt.Errorf("--email and --password are required")
		}
		return RunBootstrap(bootstrapEmail, bootstrapPassword)
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapEmail, "email", "", "superuser email")
	bootstrapCmd.Flags().StringVar(&bootstrapPassword, "password", "", "superuser password")
}

// RunBootstrap hashes password and creates a _superusers record with it,
// materializing that collection's auth schema on first use.
func RunBootstrap(email, password string) error {
	application, err := app.New(app.Config{
		SQLitePath: sqlitePath,
		SigningKey: []byte(os.Getenv(signingKeyEnv)),
		LogLevel:   logLevel,
		LogFormat:  logFormat,
	})
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer application.Stop(ctx)

	if _, _, err := application.Schemas.Get(ctx, "_superusers"); err != nil {
		return fmt.Errorf("materialize superusers schema: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	rec, err := application.Engine.Create(ctx, "_superusers", model.Record{
		"email":    email,
		"password": string(hash),
	})
	if err != nil {
		return fmt.Errorf("create superuser: %w", err)
	}

	fmt.Printf("created superuser %s (%s)\n", rec.ID(), email)
	return nil
}
