package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lk2023060901/circuit-go/application"
)

func newRootCmd() *cobra.Command {
	var configPath string

	app := application.New()
	rootCmd := &cobra.Command{
		Use:           "circuitd",
		Short:         "circuitd drives render refreshes for connected sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file path (env "+application.EnvConfigFilePath+", default "+application.DefaultConfigFilePath+")")

	rootCmd.AddCommand(
		newServeCmd(app),
		newClientCmd(app),
	)
	return rootCmd
}

// signalContext 在收到 SIGINT/SIGTERM 时取消。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
