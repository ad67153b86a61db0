package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig writes a minimal sqlite-backed config into a temp dir and
// returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bolton.yaml")
	cfg := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "bolton.db") + "\n"
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestJobsAddAndList(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCmd(t, "jobs", "add", "-c", cfgPath,
		"--repo", "acme/site", "--integrations", "stripe,sentry")
	if err != nil {
		t.Fatalf("jobs add failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Created job job-") {
		t.Errorf("unexpected add output: %s", out)
	}

	out, err = runCmd(t, "jobs", "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("jobs list failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "acme/site") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected list output: %s", out)
	}

	out, err = runCmd(t, "jobs", "list", "-c", cfgPath, "--status", "completed")
	if err != nil {
		t.Fatalf("filtered list failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No jobs found") {
		t.Errorf("expected empty filtered list, got: %s", out)
	}
}

func TestJobsAddUnknownIntegration(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := runCmd(t, "jobs", "add", "-c", cfgPath,
		"--repo", "acme/site", "--integrations", "does-not-exist")
	if err == nil {
		t.Fatal("expected error for unknown integration")
	}
	if !strings.Contains(err.Error(), "unknown integration") {
		t.Errorf("error = %v", err)
	}
}

func TestJobsShowAndCancel(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCmd(t, "jobs", "add", "-c", cfgPath,
		"--repo", "acme/site", "--integrations", "stripe")
	if err != nil {
		t.Fatalf("jobs add failed: %v", err)
	}
	fields := strings.Fields(out)
	var jobID string
	for _, f := range fields {
		if strings.HasPrefix(f, "job-") {
			jobID = f
			break
		}
	}
	if jobID == "" {
		t.Fatalf("no job id in output: %s", out)
	}

	out, err = runCmd(t, "jobs", "show", "-c", cfgPath, jobID)
	if err != nil {
		t.Fatalf("jobs show failed: %v", err)
	}
	if !strings.Contains(out, jobID) || !strings.Contains(out, "stripe") {
		t.Errorf("unexpected show output: %s", out)
	}

	out, err = runCmd(t, "jobs", "cancel", "-c", cfgPath, jobID)
	if err != nil {
		t.Fatalf("jobs cancel failed: %v", err)
	}
	if !strings.Contains(out, "cancelled") {
		t.Errorf("unexpected cancel output: %s", out)
	}

	// A second cancel hits a terminal job.
	if _, err := runCmd(t, "jobs", "cancel", "-c", cfgPath, jobID); err == nil {
		t.Error("expected error cancelling a terminal job")
	}
}

func TestJobsShowMissing(t *testing.T) {
	cfgPath := writeTestConfig(t)

	if _, err := runCmd(t, "jobs", "show", "-c", cfgPath, "job-missing1"); err == nil {
		t.Error("expected error for missing job")
	}
}
