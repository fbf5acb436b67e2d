package main

import (
	"os"

	"github.com/spf13/cobra"

	"tarun-kavipurapu/nitroshare/pkg/config"
	"tarun-kavipurapu/nitroshare/pkg/logger"
)

var (
	cfg     config.Config
	loadErr error
)

var rootCmd = &cobra.Command{
	Use:   "nitroshare",
	Short: "Send files and folders to another device on the network",
	Long: `nitroshare moves files and directories between two peers over a single
TCP or QUIC connection. Receivers can announce themselves over mDNS so that
senders can address them by name.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if loadErr != nil {
			return loadErr
		}
		if err := logger.Configure(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
			return err
		}
		return cfg.Validate()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}

func init() {
	cfg, loadErr = config.Load()
	if loadErr != nil {
		cfg = config.Default()
	}
	cfg.BindFlags(rootCmd.PersistentFlags())
}
