package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var (
		configPath string
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker without the API",
		Long:  "Claims pending jobs and drives them through the sandbox-to-pull-request pipeline. With --once, processes the current backlog and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath, once)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Bolton config file")
	cmd.Flags().BoolVar(&once, "once", false, "process pending jobs once and exit")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath string, once bool) error {
	out := cmd.OutOrStdout()

	rt, err := buildRuntime(configPath, out)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		n := rt.worker.Tick(ctx)
		fmt.Fprintf(out, "Processed %d job(s)\n", n)
		return nil
	}

	rt.worker.Start()
	<-ctx.Done()
	rt.worker.Stop()
	return nil
}
