package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/boltonhq/bolton/internal/githost"
	"github.com/boltonhq/bolton/internal/registry"
)

// Conflict records one path that a later bundle overwrote. Under the default
// "warn" policy it is surfaced to the caller, not treated as a failure.
type Conflict struct {
	Path          string `json:"path"`
	OverwrittenBy string `json:"overwrittenBy"`
	Previous      string `json:"previous"`
}

// ApplyResult summarizes one template application.
type ApplyResult struct {
	FilesWritten int        `json:"filesWritten"`
	Conflicts    []Conflict `json:"conflicts"`
}

// ApplyIntegrations applies each requested bundle's files into the session's
// pending overlay in request order, integrations before addons. Later bundles
// win at a shared path (last-write-wins) and the overwrite is recorded as a
// Conflict. Under the "fail" policy any conflict aborts the apply and leaves
// the overlay untouched.
func (m *Manager) ApplyIntegrations(sessionID string, integrationIDs, addonIDs []string, vars map[string]string) (ApplyResult, error) {
	var result ApplyResult

	if m.registry == nil {
		return result, fmt.Errorf("sandbox: no registry configured")
	}
	s, err := m.GetSession(sessionID)
	if err != nil {
		return result, err
	}

	// Resolution failures abort before anything is staged.
	bundles, err := m.registry.Resolve(integrationIDs)
	if err != nil {
		return result, fmt.Errorf("sandbox: apply: %w", err)
	}
	addons, err := m.registry.Resolve(addonIDs)
	if err != nil {
		return result, fmt.Errorf("sandbox: apply: %w", err)
	}
	bundles = append(bundles, addons...)

	// Hold the write lock for the whole application so an apply and a
	// commit on the same session never interleave.
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]string)
	// Seed provenance with earlier applies on this session, so a later apply
	// overwriting an already-staged path still records a Conflict.
	source := make(map[string]string, len(s.sources))
	for path, id := range s.sources {
		source[path] = id
	}
	for _, b := range bundles {
		sub := newSubstituter(s.Repo, b, vars)
		for _, path := range sortedPaths(b.Files) {
			// Re-applying the same bundle is idempotent, not a conflict.
			if prev, ok := source[path]; ok && prev != b.ID {
				result.Conflicts = append(result.Conflicts, Conflict{
					Path:          path,
					OverwrittenBy: b.ID,
					Previous:      prev,
				})
			}
			staged[path] = sub.Replace(b.Files[path])
			source[path] = b.ID
		}
	}

	if len(result.Conflicts) > 0 && m.conflictPolicy == "fail" {
		c := result.Conflicts[0]
		return ApplyResult{}, fmt.Errorf("sandbox: apply: %q claimed by both %s and %s", c.Path, c.Previous, c.OverwrittenBy)
	}

	for path, content := range staged {
		s.pending[path] = content
		s.sources[path] = source[path]
	}
	result.FilesWritten = len(staged)

	if err := m.persistLocked(s); err != nil {
		return result, err
	}
	return result, nil
}

// missingToken is the visible placeholder substituted for a required
// configuration key with no provided value. Configuration completeness is
// validated elsewhere before commit.
func missingToken(key string) string {
	return "<<MISSING:" + key + ">>"
}

// newSubstituter builds the placeholder replacer for one bundle: repository
// variables plus the bundle's required configuration keys.
func newSubstituter(repo string, b *registry.Bundle, vars map[string]string) *strings.Replacer {
	pairs := []string{
		"{{repo}}", repo,
	}
	if owner, name, err := githost.SplitRepo(repo); err == nil {
		pairs = append(pairs, "{{repo_owner}}", owner, "{{repo_name}}", name)
	}
	for _, key := range b.RequiredKeys {
		value, ok := vars[key]
		if !ok || value == "" {
			value = missingToken(key)
		}
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...)
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Diff holds before/after content for a single path.
type Diff struct {
	Path string `json:"path"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// DiffPath returns the before/after content of one path: before from the
// seeded tree, after from the tree overlaid with pending changes.
func (m *Manager) DiffPath(sessionID, path string) (Diff, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return Diff{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	d := Diff{Path: path, Old: s.tree[path], New: s.tree[path]}
	if content, ok := s.pending[path]; ok {
		d.New = content
	}
	return d, nil
}

// FileContent returns the current overlaid content of one path.
func (m *Manager) FileContent(sessionID, path string) (string, error) {
	d, err := m.DiffPath(sessionID, path)
	if err != nil {
		return "", err
	}
	return d.New, nil
}

// PendingCount returns the number of staged files in the session.
func (m *Manager) PendingCount(sessionID string) (int, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending), nil
}
