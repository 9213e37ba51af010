package list

import (
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List providers, categories, and credential sources",
		Long: `List supported cloud providers, the unified service category taxonomy,
cross-provider service equivalents, and locally available AWS profiles.`,
	}

	// Add subcommands
	cmd.AddCommand(NewProvidersCmd())
	cmd.AddCommand(NewCategoriesCmd())
	cmd.AddCommand(NewEquivalentsCmd())
	cmd.AddCommand(NewProfilesCmd())

	return cmd
}
