package cmd

import (
	"github.com/spf13/cobra"

	"go.pilab.hu/sociallink/internal/server"
	"go.pilab.hu/sociallink/log"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the storage schema",
		Long:  `Applies pending SQL migrations on sqlite and postgres, and ensures the unique indexes on mongodb.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening a backend migrates it.
			return withRepositories(cmd.Context(), func(*server.Repositories) error {
				appLogger.Info(cmd.Context(), "storage is up to date", log.Fields{
					"backend": appConfig.Storage.Backend,
				})
				return nil
			})
		},
	}
}
