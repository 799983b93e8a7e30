package cmd

import (
	"github.com/spf13/cobra"
)

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the categories of the site registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), appInstance.Service().Categories())
		},
	}
}
