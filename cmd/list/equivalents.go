package list

import (
	"fmt"

	"costshub/internal/costmodel"
	"costshub/internal/mapper"

	"github.com/spf13/cobra"
)

// NewEquivalentsCmd creates and returns the equivalents command
func NewEquivalentsCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "equivalents <service-name>",
		Short: "Show what a service is called on other providers",
		Long: `Resolve a provider-native service name to its unified category and list the
services of the other providers that fall in the same category.`,
		Example: `  # What does EC2 correspond to on GCP and Azure?
  costshub list equivalents --source aws "Amazon Elastic Compute Cloud - Compute"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := costmodel.ParseProvider(source)
			if err != nil {
				return err
			}

			m := mapper.New()
			category, confidence := m.Map(provider, args[0])
			if confidence == costmodel.ConfidenceUnknown {
				fmt.Printf("%s is not a recognized %s service\n", args[0], provider)
				return nil
			}

			fmt.Printf("%s -> %s (%s match)\n", args[0], category, confidence)
			for _, eq := range m.EquivalentServices(args[0], provider, costmodel.AllProviders()) {
				fmt.Printf("  %-5s %s\n", eq.Provider, eq.ServiceName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "aws", "Provider the service name belongs to (aws, gcp, azure)")

	return cmd
}
