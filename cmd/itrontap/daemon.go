package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"github.com/jgoulah/itrontap/internal/ingest"
	"github.com/jgoulah/itrontap/internal/provider"
	"github.com/jgoulah/itrontap/internal/publisher"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run ingestion cycles on a fixed schedule",
	Long: `Runs an ingestion cycle immediately and then on the configured interval
(default every 12 hours; the portal only updates data daily). Cycles for the
account never overlap: if one runs long, the next tick is skipped. Transient
connection failures are retried on the next tick with no extra backoff;
credential rejections are logged persistently until the operator fixes them.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger()
	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	var pub ingest.ReadingPublisher
	if cfg.MQTT.Enabled {
		mqttPub, err := publisher.New(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting publisher: %w", err)
		}
		defer mqttPub.Close()
		pub = mqttPub
	}

	coordinator := ingest.NewCoordinator(client, store, pub, cfg.GetCostRate(), cfg.GetWorkers(), log)

	cycle := func() {
		result, err := coordinator.RunCycle(context.Background())
		switch {
		case provider.IsAuthError(err):
			log.Error("needs re-authentication: portal rejected the configured credentials", "error", err)
		case err != nil:
			log.Warn("cycle failed, retrying on next tick", "error", err)
		default:
			log.Info("cycle complete",
				"service_points", len(result.ServicePoints),
				"points_written", result.PointsWritten,
				"failed", len(result.Failed))
		}
	}

	interval := cfg.GetFetchInterval()
	scheduler := gocron.NewScheduler(client.Municipality().Location())

	// SingletonMode keeps a long-running cycle from overlapping the next
	// tick for this account.
	if _, err := scheduler.Every(interval).SingletonMode().StartImmediately().Do(cycle); err != nil {
		return fmt.Errorf("scheduling cycles: %w", err)
	}

	fmt.Printf("Polling %s every %s (Ctrl-C to stop)\n", cfg.Municipality, interval)
	scheduler.StartAsync()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("Shutting down...")
	scheduler.Stop()
	return nil
}
