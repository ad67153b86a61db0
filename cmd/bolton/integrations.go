package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/boltonhq/bolton/internal/config"
	"github.com/boltonhq/bolton/internal/explain"
	"github.com/boltonhq/bolton/internal/registry"
	"github.com/spf13/cobra"
)

func newIntegrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "Browse the integration catalog",
	}

	cmd.AddCommand(newIntegrationsListCmd())
	cmd.AddCommand(newIntegrationsEnvCmd())
	return cmd
}

func newIntegrationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available integrations and addons",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tKIND\tREQUIRED KEYS")
			for _, b := range reg.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					b.ID, b.Name, b.Category, b.Kind, strings.Join(b.RequiredKeys, ","))
			}
			return w.Flush()
		},
	}
}

func newIntegrationsEnvCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "env <integration-id>",
		Short: "Show environment setup for an integration",
		Long:  "Prints the integration's required keys. When an explain command is configured, also asks it for setup instructions.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntegrationsEnv(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Bolton config file")
	return cmd
}

func runIntegrationsEnv(cmd *cobra.Command, configPath, id string) error {
	out := cmd.OutOrStdout()

	reg, err := registry.Load()
	if err != nil {
		return err
	}
	b, err := reg.Get(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s (%s)\n", b.Name, b.ID)
	if len(b.RequiredKeys) == 0 {
		fmt.Fprintln(out, "No configuration keys required.")
	} else {
		fmt.Fprintln(out, "Required keys:")
		for _, key := range b.RequiredKeys {
			fmt.Fprintf(out, "  %s\n", key)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// Catalog info alone is still useful without a config file.
		return nil
	}
	runner := explain.New(cfg.Explain)
	if !runner.Enabled() {
		return nil
	}
	text, err := runner.EnvInstructions(cmd.Context(), id)
	if err != nil || text == "" {
		return nil
	}
	fmt.Fprintf(out, "\n%s\n", text)
	return nil
}
