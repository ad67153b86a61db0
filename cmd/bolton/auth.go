package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/boltonhq/bolton/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func newAuthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Store the git host token in the config file",
		Long:  "Prompts for a GitHub personal access token (hidden input on a terminal) and writes it to the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuth(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Bolton config file")
	return cmd
}

func runAuth(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	token, err := readToken(cmd)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("empty token")
	}

	cfg := &config.Config{}
	if data, err := os.ReadFile(configPath); err == nil {
		if cfg, err = config.Parse(data); err != nil {
			return fmt.Errorf("parse existing config: %w", err)
		}
	}
	cfg.GitHub.Token = token

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}

	fmt.Fprintf(out, "Token saved to %s\n", configPath)
	return nil
}

// readToken reads the token with echo disabled when stdin is a terminal,
// falling back to a plain line read for piped input.
func readToken(cmd *cobra.Command) (string, error) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "GitHub token: ")

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return "", nil
	}
	return strings.TrimSpace(scanner.Text()), nil
}
