package main

import (
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rtkbridge/internal/config"
	"rtkbridge/internal/web"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the correction relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logs := web.NewLogBuffer(2000)
			log.SetOutput(io.MultiWriter(cmd.ErrOrStderr(), logs))
			defer log.SetOutput(os.Stderr)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := newRuntime(cfg, logs)
			if err != nil {
				return err
			}
			return rt.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "./rtkbridge.yaml", "Path to YAML config")
	return cmd
}
