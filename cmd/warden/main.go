// Command warden runs the Discord assistant daemon: it recovers orphaned
// replies from a previous crash on startup, serves conversations until
// signalled, then drains in-flight replies before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/internal/ai"
	"github.com/wardenlabs/warden/internal/bot"
	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/history"
	"github.com/wardenlabs/warden/internal/inflight"
	"github.com/wardenlabs/warden/internal/logging"
	"github.com/wardenlabs/warden/internal/platform"
)

var (
	configPath string
	quiet      bool
)

func main() {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Discord assistant with crash-safe reply handling",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "warden.yaml", "path to config file")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress log output")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if quiet {
		logging.Disable()
	}
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if cfg.Discord.Token == "" {
		return fmt.Errorf("discord token missing: set discord.token or WARDEN_DISCORD_TOKEN")
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("provider api key missing: set provider.api_key or ANTHROPIC_API_KEY")
	}

	dg, err := platform.Connect(cfg.Discord.Token)
	if err != nil {
		return err
	}
	client := platform.NewDiscord(dg)
	defer client.Close()

	hist, err := history.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer hist.Close()

	provider := ai.NewAnthropicProvider(cfg.Provider.APIKey, cfg.Provider.Model)
	registry := inflight.NewRegistry(client, cfg.InFlightLogPath())

	recoverTimeout := time.Duration(cfg.DrainTimeoutSeconds) * time.Second
	if recoverTimeout <= 0 {
		recoverTimeout = 10 * time.Second
	}
	// Repair anything the previous process left behind before taking
	// traffic.
	registry.RecoverOrphans(context.Background(), recoverTimeout)

	b := bot.New(cfg, client, registry, hist, provider)
	if err := b.Start(); err != nil {
		return err
	}
	client.OnMessage(b.HandleInbound)

	logging.Infof("[Warden] running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Infof("[Warden] received %v, draining", sig)

	b.Shutdown(context.Background())
	return nil
}
