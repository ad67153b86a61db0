package sandbox

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestCommit_RetrySafe(t *testing.T) {
	git := &stubGit{commitErr: errors.New("503 upstream")}
	m := testManager(t, Opts{Git: git})
	id := demoSession(t, m)

	if _, err := m.ApplyIntegrations(id, []string{"a"}, nil, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	_, err := m.Commit(context.Background(), id, "bolton/job-1", "Add integrations")
	if err == nil {
		t.Fatal("expected commit failure")
	}
	n, err := m.PendingCount(id)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 2 {
		t.Errorf("pending after failed commit = %d, want 2 unchanged", n)
	}

	// Same pending content succeeds on retry without duplicating files.
	git.commitErr = nil
	committed, err := m.Commit(context.Background(), id, "bolton/job-1", "Add integrations")
	if err != nil {
		t.Fatalf("retry commit: %v", err)
	}
	if committed != 2 {
		t.Errorf("committed = %d, want 2", committed)
	}
	if git.commits != 1 || len(git.lastFiles) != 2 {
		t.Errorf("remote saw %d commits with %d files", git.commits, len(git.lastFiles))
	}

	n, err = m.PendingCount(id)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 0 {
		t.Errorf("pending after commit = %d, want 0", n)
	}
}

func TestCommit_NothingStaged(t *testing.T) {
	m := testManager(t, Opts{Git: &stubGit{}})
	id := demoSession(t, m)

	_, err := m.Commit(context.Background(), id, "bolton/job-1", "empty")
	if err == nil {
		t.Fatal("expected error for empty overlay")
	}
}

func TestCommit_FoldsOverlayIntoTree(t *testing.T) {
	git := &stubGit{}
	m := testManager(t, Opts{Git: git})
	id := demoSession(t, m)

	if _, err := m.ApplyIntegrations(id, []string{"b"}, nil, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := m.Commit(context.Background(), id, "bolton/job-1", "Add b"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Committed content stays visible through the tree.
	content, err := m.FileContent(id, "config.json")
	if err != nil {
		t.Fatalf("file content: %v", err)
	}
	if content != `{"from":"b"}` {
		t.Errorf("content = %q", content)
	}
}

func TestExportArchive_PureRead(t *testing.T) {
	m := testManager(t, Opts{})
	id := demoSession(t, m)

	if _, err := m.ApplyIntegrations(id, []string{"a"}, nil, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	first, err := m.ExportArchive(id)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	second, err := m.ExportArchive(id)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("two exports of the same state differ")
	}

	n, err := m.PendingCount(id)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 2 {
		t.Errorf("export mutated overlay: pending = %d", n)
	}
}

func TestExportArchive_ChangesAfterApply(t *testing.T) {
	m := testManager(t, Opts{})
	id := demoSession(t, m)

	before, err := m.ExportArchive(id)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := m.ApplyIntegrations(id, []string{"b"}, nil, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	after, err := m.ExportArchive(id)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if bytes.Equal(before, after) {
		t.Error("archive unchanged after apply")
	}
}
