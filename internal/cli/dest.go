package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var destCmd = &cobra.Command{
	Use:   "dest",
	Short: "Manage the destination database",
}

var destInitSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Create the destination tables if they do not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := connectDest(cmd.Context())
		if err != nil {
			return err
		}
		if err := store.InitSchema(cmd.Context()); err != nil {
			return withCode(exitDB, fmt.Errorf("initialize destination schema: %w", err))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Destination schema ready")
		return nil
	},
}

func init() {
	destCmd.AddCommand(destInitSchemaCmd)
	rootCmd.AddCommand(destCmd)
}
