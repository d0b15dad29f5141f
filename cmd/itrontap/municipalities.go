package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgoulah/itrontap/internal/provider"
)

var municipalitiesCmd = &cobra.Command{
	Use:   "municipalities",
	Short: "List supported municipalities",
	Long:  `Displays every municipality portal this build knows how to talk to.`,
	RunE:  runMunicipalities,
}

func init() {
	rootCmd.AddCommand(municipalitiesCmd)
}

func runMunicipalities(cmd *cobra.Command, args []string) error {
	for _, name := range provider.MunicipalityNames() {
		muni, err := provider.ResolveMunicipality(name)
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %-40s %s\n", muni.Code, muni.Name, muni.Timezone)
	}
	return nil
}
