package list

import (
	"fmt"

	"costshub/internal/costmodel"

	"github.com/spf13/cobra"
)

// NewProvidersCmd creates and returns the providers command
func NewProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List supported cloud providers",
		Example: `  # List all supported providers
  costshub list providers`,
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range costmodel.AllProviders() {
				fmt.Println(p)
			}
		},
	}

	return cmd
}

// NewCategoriesCmd creates and returns the categories command
func NewCategoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List the unified service category taxonomy",
		Example: `  # List all unified categories
  costshub list categories`,
		Run: func(cmd *cobra.Command, args []string) {
			for _, c := range costmodel.AllCategories() {
				fmt.Println(c)
			}
		},
	}

	return cmd
}
