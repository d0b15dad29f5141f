package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	listStream string
	listDays   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored statistics",
	Long:  `Displays reconciled statistics streams from the local database.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listStream, "stream", "", "show points for a single statistic id")
	listCmd.Flags().IntVar(&listDays, "days", 7, "how many trailing days of points to show")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	streams, err := store.ListStreams(ctx)
	if err != nil {
		return fmt.Errorf("listing streams: %w", err)
	}
	if len(streams) == 0 {
		fmt.Println("No statistics stored yet")
		return nil
	}

	for _, meta := range streams {
		if listStream != "" && meta.StatisticID != listStream {
			continue
		}

		checkpoint, err := store.LastCheckpoint(ctx, meta.StatisticID)
		if err != nil {
			return fmt.Errorf("loading checkpoint for %s: %w", meta.StatisticID, err)
		}

		fmt.Printf("\n%s (%s)\n", meta.StatisticID, meta.Name)
		if checkpoint == nil {
			fmt.Println("  no points")
			continue
		}
		fmt.Printf("  last point %s, sum %s %s\n",
			humanize.Time(checkpoint.Start),
			humanize.CommafWithDigits(checkpoint.Sum, 2),
			meta.UnitOfMeasurement)

		if listStream == "" {
			continue
		}

		from := checkpoint.Start.AddDate(0, 0, -listDays)
		points, err := store.PointsDuring(ctx, meta.StatisticID, from, time.Time{})
		if err != nil {
			return fmt.Errorf("querying points for %s: %w", meta.StatisticID, err)
		}

		fmt.Println("  ----------------------------------------------")
		fmt.Printf("  %-20s %12s %14s\n", "Hour", "State", "Sum")
		fmt.Println("  ----------------------------------------------")
		for _, pt := range points {
			fmt.Printf("  %-20s %12.2f %14.2f\n",
				pt.Start.Format("2006-01-02 15:04"), pt.State, pt.Sum)
		}
		fmt.Printf("  %d points\n", len(points))
	}

	return nil
}
