package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/itrontap/pkg/models"
)

var inspectStats bool

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the live service point catalog",
	Long: `Logs in and discovers every account and service point the configured
credentials can access, printing meters, latest readings, and optionally the
provider's 30-day statistics rollup. Nothing is written to the database.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectStats, "stats", false, "include the 30-day statistics rollup")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := newClient(cfg, newLogger())
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := client.Login(ctx); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	points, err := client.DiscoverServicePoints(ctx)
	if err != nil {
		return fmt.Errorf("discovering service points: %w", err)
	}

	fmt.Printf("%s: %d service point(s)\n", client.Municipality().Name, len(points))
	for _, sp := range points {
		fmt.Printf("\nService point %s (%s %s)\n", sp.ID, sp.Commodity.Type, sp.Commodity.Unit)
		fmt.Printf("  Account:  %s (%s %s)\n", sp.Account.ID, sp.Account.Customer.FirstName, sp.Account.Customer.LastName)
		fmt.Printf("  Location: %s, %s %s\n", sp.Location.Address, sp.Location.City, sp.Location.Zip)
		fmt.Printf("  Active since %s\n", sp.StartDate.Format("2006-01-02"))
		fmt.Printf("  Meter %s: %s %s as of %s (%s)\n",
			sp.Meter.ID,
			humanize.CommafWithDigits(sp.Meter.Reading, 3),
			unitSuffix(sp.Commodity.Unit),
			sp.Meter.Timestamp.Format("2006-01-02 15:04"),
			humanize.Time(sp.Meter.Timestamp))

		if inspectStats {
			printStatistics(sp.Meter.Statistics)
		}
	}

	return nil
}

func printStatistics(stats models.Statistics) {
	fmt.Println("  30-day statistics:")
	printStatisticsDetail("lowest usage", stats.LowestUsage)
	printStatisticsDetail("highest usage", stats.HighestUsage)
	printStatisticsDetail("average usage", stats.AverageUsage)
	printStatisticsDetail("lowest flow", stats.LowestFlow)
	printStatisticsDetail("highest flow", stats.HighestFlow)
}

func printStatisticsDetail(label string, detail models.StatisticsDetail) {
	fmt.Printf("    %-14s weekday %8.2f  weekend %8.2f  allday %8.2f\n",
		label, detail.Weekday.Value, detail.Weekend.Value, detail.Allday.Value)
}

func unitSuffix(unit models.UnitOfMeasure) string {
	if unit == models.UnitGallon {
		return "gal"
	}
	return string(unit)
}
