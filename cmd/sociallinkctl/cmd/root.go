// Package cmd holds the sociallinkctl commands. They work directly on the
// configured storage backend, the same one the server uses.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go.pilab.hu/sociallink/config"
	"go.pilab.hu/sociallink/internal/audit"
	"go.pilab.hu/sociallink/internal/server"
	"go.pilab.hu/sociallink/log"
)

const appName = "sociallinkctl"

// errUsage marks invalid flag values.
var errUsage = errors.New("invalid usage")

var (
	cfgFile  string
	envFiles []string

	appConfig *config.Config
	appLogger log.Logger
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "sociallinkctl manages social account links and local users",
		Long:          `A command-line interface for migrating the link store, inspecting and removing social account links, and seeding local users.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, envFiles...)
			if err != nil {
				return err
			}
			appConfig = cfg
			audit.SetOutput(cmd.ErrOrStderr())

			appLogger, err = log.New(log.Options{
				Level:  cfg.LogLevel,
				Pretty: true,
				Output: cmd.ErrOrStderr(),
			})
			return err
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sociallink.yaml)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before the config (default .env)")

	root.AddCommand(newMigrateCmd(), newLinksCmd(), newUsersCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if appLogger != nil {
			appLogger.Error(context.Background(), "command failed", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// withRepositories opens the configured backend for the duration of fn.
func withRepositories(ctx context.Context, fn func(*server.Repositories) error) error {
	repos, err := server.OpenRepositories(ctx, appConfig.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := repos.Close(ctx); cerr != nil {
			appLogger.Warn(ctx, "closing storage failed", log.Fields{"error": cerr.Error()})
		}
	}()
	return fn(repos)
}

func printYAML(w io.Writer, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
