package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/boltonhq/bolton/internal/registry"
)

func demoSession(t *testing.T, m *Manager) string {
	t.Helper()
	s, err := m.CreateDemoSession(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s.ID
}

func TestApply_OrderSensitiveLastWriteWins(t *testing.T) {
	m := testManager(t, Opts{})
	id := demoSession(t, m)

	result, err := m.ApplyIntegrations(id, []string{"a", "b"}, nil, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// FilesWritten counts distinct staged paths; the overwrite of config.json
	// shows up as a Conflict, not a second write.
	if result.FilesWritten != 2 {
		t.Errorf("files written = %d, want 2", result.FilesWritten)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %v, want exactly 1", result.Conflicts)
	}
	c := result.Conflicts[0]
	if c.Path != "config.json" || c.Previous != "a" || c.OverwrittenBy != "b" {
		t.Errorf("conflict = %+v", c)
	}

	content, err := m.FileContent(id, "config.json")
	if err != nil {
		t.Fatalf("file content: %v", err)
	}
	if content != `{"from":"b"}` {
		t.Errorf("config.json = %q, want b's content", content)
	}
}

func TestApply_ConflictAcrossApplies(t *testing.T) {
	m := testManager(t, Opts{})
	id := demoSession(t, m)

	if _, err := m.ApplyIntegrations(id, []string{"a"}, nil, nil); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	result, err := m.ApplyIntegrations(id, []string{"b"}, nil, nil)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %v, want exactly 1", result.Conflicts)
	}
	c := result.Conflicts[0]
	if c.Path != "config.json" || c.Previous != "a" || c.OverwrittenBy != "b" {
		t.Errorf("conflict = %+v", c)
	}

	// Re-applying the same bundle overwrites its own files without conflict.
	again, err := m.ApplyIntegrations(id, []string{"b"}, nil, nil)
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if len(again.Conflicts) != 0 {
		t.Errorf("re-apply conflicts = %v, want none", again.Conflicts)
	}
}

func TestApply_UnknownIntegrationAborts(t *testing.T) {
	m := testManager(t, Opts{})
	id := demoSession(t, m)

	_, err := m.ApplyIntegrations(id, []string{"a", "not-a-real-one"}, nil, nil)
	if !errors.Is(err, registry.ErrUnknownIntegration) {
		t.Fatalf("error = %v, want ErrUnknownIntegration", err)
	}

	// Nothing may be staged when resolution fails.
	n, err := m.PendingCount(id)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestApply_PlaceholderSubstitution(t *testing.T) {
	m := testManager(t, Opts{})
	id := demoSession(t, m)

	if _, err := m.ApplyIntegrations(id, []string{"a"}, nil, map[string]string{"A_KEY": "sk_live_123"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	content, err := m.FileContent(id, "src/a.ts")
	if err != nil {
		t.Fatalf("file content: %v", err)
	}
	if !strings.Contains(content, "sk_live_123") {
		t.Errorf("content = %q, want substituted key", content)
	}
	if !strings.Contains(content, "widgets") {
		t.Errorf("content = %q, want repo_name substituted", content)
	}
}

func TestApply_MissingKeyGetsVisibleToken(t *testing.T) {
	m := testManager(t, Opts{})
	id := demoSession(t, m)

	if _, err := m.ApplyIntegrations(id, []string{"a"}, nil, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	content, err := m.FileContent(id, "src/a.ts")
	if err != nil {
		t.Fatalf("file content: %v", err)
	}
	if !strings.Contains(content, "<<MISSING:A_KEY>>") {
		t.Errorf("content = %q, want missing-key token", content)
	}
}

func TestApply_AddonsLayerAfterIntegrations(t *testing.T) {
	m := testManager(t, Opts{})
	id := demoSession(t, m)

	result, err := m.ApplyIntegrations(id, []string{"b"}, []string{"ui"}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.FilesWritten != 2 {
		t.Errorf("files written = %d, want 2", result.FilesWritten)
	}
	if _, err := m.FileContent(id, "src/ui.tsx"); err != nil {
		t.Errorf("addon file missing: %v", err)
	}
}

func TestApply_ConflictPolicyFail(t *testing.T) {
	m := testManager(t, Opts{ConflictPolicy: "fail"})
	id := demoSession(t, m)

	_, err := m.ApplyIntegrations(id, []string{"a", "b"}, nil, nil)
	if err == nil {
		t.Fatal("expected error under fail policy")
	}
	if !strings.Contains(err.Error(), "config.json") {
		t.Errorf("error = %q, want conflicting path named", err)
	}

	n, err := m.PendingCount(id)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 0 {
		t.Errorf("pending = %d, want untouched overlay", n)
	}
}

func TestDiffPath(t *testing.T) {
	m := testManager(t, Opts{Fetcher: &stubFetcher{tree: map[string]string{
		"README.md":   "# widgets\n",
		"config.json": `{"from":"repo"}`,
	}}})
	id := demoSession(t, m)

	if _, err := m.ApplyIntegrations(id, []string{"b"}, nil, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	d, err := m.DiffPath(id, "config.json")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if d.Old != `{"from":"repo"}` || d.New != `{"from":"b"}` {
		t.Errorf("diff = %+v", d)
	}

	// Untouched path shows identical sides.
	d, err = m.DiffPath(id, "README.md")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if d.Old != d.New {
		t.Errorf("untouched diff = %+v", d)
	}
}
