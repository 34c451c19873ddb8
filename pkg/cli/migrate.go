package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var models bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the external key mapping tables",
		Long: `Create or update the tables holding external systems and external key
mappings. With --models the tables of the registered models are migrated too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := rootOpts.openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			tables := e.Registry().Tables()
			if models {
				for _, table := range tables {
					m, _ := e.Registry().Model(table)
					if err := e.Manager().Conn(ctx).AutoMigrate(m.New()); err != nil {
						return WrapExitError(ExitFailure, "failed to migrate "+table, err)
					}
				}
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "mapping tables ready, %d models registered\n", len(tables))
			return err
		},
	}

	cmd.Flags().BoolVar(&models, "models", false, "also migrate the tables of registered models")
	return cmd
}
