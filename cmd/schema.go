package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

type storeProvider interface {
	Store() harvest.Store
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the database tables without harvesting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sp, ok := a.(storeProvider)
			if !ok {
				return fmt.Errorf("application has no store")
			}
			if err := sp.Store().EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			a.Logger().Info("schema is up to date")
			return nil
		},
	}
}
