package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boltonhq/bolton/internal/config"
)

func TestAuthWritesToken(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bolton.yaml")

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader("ghp_testtoken123\n"))
	cmd.SetArgs([]string{"auth", "-c", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("auth failed: %v\n%s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "Token saved") {
		t.Errorf("unexpected output: %s", buf.String())
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.GitHub.Token != "ghp_testtoken123" {
		t.Errorf("token = %q", cfg.GitHub.Token)
	}

	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestAuthPreservesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bolton.yaml")
	existing := "server:\n  port: 9999\ndatabase:\n  driver: sqlite\n  path: x.db\n"
	if err := os.WriteFile(cfgPath, []byte(existing), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader("ghp_another\n"))
	cmd.SetArgs([]string{"auth", "-c", cfgPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("auth failed: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.GitHub.Token != "ghp_another" {
		t.Errorf("token = %q", cfg.GitHub.Token)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, existing setting lost", cfg.Server.Port)
	}
}

func TestAuthEmptyToken(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader("\n"))
	cmd.SetArgs([]string{"auth", "-c", filepath.Join(t.TempDir(), "bolton.yaml")})

	if err := cmd.Execute(); err == nil {
		t.Error("expected error for empty token")
	}
}
