package sandbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/boltonhq/bolton/internal/githost"
)

// Commit hands the staged overlay to the git host as one commit on branch.
// Pending changes are cleared only after the remote call succeeds; on failure
// they are preserved unchanged so the operation is safely retryable. Commit
// holds the session's write lock, so it never interleaves with an apply on
// the same session.
func (m *Manager) Commit(ctx context.Context, sessionID, branch, message string) (int, error) {
	if m.git == nil {
		return 0, fmt.Errorf("sandbox: no git client configured")
	}
	s, err := m.GetSession(sessionID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return 0, fmt.Errorf("sandbox: session %s: nothing to commit", sessionID)
	}

	files := make([]githost.CommitFile, 0, len(s.pending))
	paths := make([]string, 0, len(s.pending))
	for path := range s.pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		files = append(files, githost.CommitFile{Path: path, Content: s.pending[path]})
	}

	if _, err := m.git.CommitFiles(ctx, s.Repo, branch, message, files); err != nil {
		return 0, err
	}

	// Remote commit succeeded: fold the overlay into the tree and clear it.
	committed := len(s.pending)
	for path, content := range s.pending {
		s.tree[path] = content
	}
	s.pending = make(map[string]string)
	s.sources = make(map[string]string)

	if err := m.persistLocked(s); err != nil {
		return committed, err
	}
	return committed, nil
}

// persistLocked is persist for callers already holding the session lock.
func (m *Manager) persistLocked(s *Session) error {
	if m.db == nil || s.Demo {
		return nil
	}
	return m.persistRow(s.ID, s.JobID, s.Repo, s.tree, s.pending, s.lastAccess)
}
