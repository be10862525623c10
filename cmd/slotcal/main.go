package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/config"
	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "slotcal",
	Short: "Find open appointment slots across ICS calendars",
	Long: `slotcal reads busy time from ICS subscriptions and local bookings and
proposes free slots inside business hours.

Examples:
  slotcal serve --config /etc/slotcal/config.yaml
  slotcal find --duration 45 --count 5 --days 7`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/slotcal/config.yaml", "Path to config file")
	rootCmd.AddCommand(serveCmd, findCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config and sets up logging for its environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", configPath)
		return nil, err
	}
	appLog.Setup(cfg.Environment)
	return cfg, nil
}
