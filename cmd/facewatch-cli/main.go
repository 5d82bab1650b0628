package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"facewatch/internal/app"
	"facewatch/internal/config"
)

var (
	configPath string
	withAlerts bool

	// facewatch is built by the root pre-run and shared by subcommands.
	facewatch *app.App
)

var rootCmd = &cobra.Command{
	Use:           "facewatch-cli",
	Short:         "Manage the face gallery and scan media offline",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		facewatch, err = app.Build(cfg, app.Options{Alerts: withAlerts})
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if facewatch != nil {
			facewatch.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&withAlerts, "alert", false, "Send notifications for matches")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if facewatch != nil {
			facewatch.Close()
		}
		os.Exit(1)
	}
}
