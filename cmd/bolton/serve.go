package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/boltonhq/bolton/internal/api"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noWorker   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Bolton API server",
		Long:  "Starts the HTTP API plus the background worker. Ctrl-C shuts both down gracefully.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, noWorker)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Bolton config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API without starting the worker loop")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, noWorker bool) error {
	out := cmd.OutOrStdout()

	rt, err := buildRuntime(configPath, out)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !noWorker {
		rt.worker.Start()
		defer rt.worker.Stop()
	}

	if port == 0 {
		port = rt.cfg.Server.Port
	}
	return api.Start(ctx, api.StartOpts{
		Store:     rt.store,
		Sandbox:   rt.sandbox,
		Registry:  rt.registry,
		Scheduler: rt.worker,
		Port:      port,
		DemoTTL:   time.Duration(rt.cfg.Sandbox.DemoTTLMin) * time.Minute,
		Out:       out,
	})
}
