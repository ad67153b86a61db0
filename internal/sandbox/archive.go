package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"time"
)

// ExportArchive serializes the tree overlaid with pending changes into a
// gzipped tar. It is a pure read: entries are emitted in sorted path order
// with a fixed modification time, so two exports of the same state are
// byte-identical.
func (m *Manager) ExportArchive(sessionID string) ([]byte, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	overlay := make(map[string]string, len(s.tree)+len(s.pending))
	for path, content := range s.tree {
		overlay[path] = content
	}
	for path, content := range s.pending {
		overlay[path] = content
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	epoch := time.Unix(0, 0)
	for _, path := range sortedPaths(overlay) {
		content := overlay[path]
		hdr := &tar.Header{
			Name:    path,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: epoch,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("sandbox: archive header %s: %w", path, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("sandbox: archive write %s: %w", path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("sandbox: close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("sandbox: close gzip: %w", err)
	}
	return buf.Bytes(), nil
}
