package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"Clarity/internal/di"
	"Clarity/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "clarity",
	Short: "Clarity foot-traffic forecast service",
	Long: `Clarity fuses signals from weather, transit, traffic and local events
into an hourly foot-traffic forecast for a location.

Run without a subcommand to start the HTTP service.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")
	rootCmd.AddCommand(serveCmd, fuseCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	return app.Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
