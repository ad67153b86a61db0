// Package sandbox maintains per-job (and ad-hoc demo) workspaces: a
// materialized repository file tree plus a pending-change overlay produced
// by template application.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boltonhq/bolton/internal/githost"
	"github.com/boltonhq/bolton/internal/models"
	"github.com/boltonhq/bolton/internal/registry"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors for sandbox operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRepoUnavailable = errors.New("repository unavailable")
)

// Session is one workspace. The manager owns all sessions; callers hold only
// the session id and go through the manager's methods.
type Session struct {
	ID         string
	JobID      string
	Repo       string
	Demo       bool
	mu         sync.RWMutex
	tree       map[string]string
	pending    map[string]string
	sources    map[string]string // pending path -> bundle id that wrote it
	lastAccess time.Time
}

// Manager owns all sandbox sessions. Job-bound sessions are persisted so
// they survive restarts; demo sessions live in memory only and are reaped
// on idle timeout.
type Manager struct {
	mu             sync.Mutex
	sessions       map[string]*Session
	db             *gorm.DB
	fetcher        githost.TreeFetcher
	git            githost.Client
	registry       *registry.Registry
	conflictPolicy string
}

// Opts holds parameters for creating a Manager.
type Opts struct {
	DB             *gorm.DB // nil disables persistence (demo-only or tests)
	Fetcher        githost.TreeFetcher
	Git            githost.Client
	Registry       *registry.Registry
	ConflictPolicy string // "warn" (default) or "fail"
}

// NewManager creates a session manager.
func NewManager(opts Opts) *Manager {
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = "warn"
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		db:             opts.DB,
		fetcher:        opts.Fetcher,
		git:            opts.Git,
		registry:       opts.Registry,
		conflictPolicy: opts.ConflictPolicy,
	}
}

// LoadRepoTree fetches the target repository's current file tree. Any fetch
// failure (missing, unauthorized, network) is reported as ErrRepoUnavailable;
// retry policy belongs to the caller.
func (m *Manager) LoadRepoTree(ctx context.Context, repo string) (map[string]string, error) {
	if m.fetcher == nil {
		return nil, fmt.Errorf("sandbox: no tree fetcher configured: %w", ErrRepoUnavailable)
	}
	tree, err := m.fetcher.FetchTree(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("sandbox: load tree for %s: %w: %v", repo, ErrRepoUnavailable, err)
	}
	return tree, nil
}

// SessionForJob returns the job's session, creating it lazily on first
// access: restore the persisted row if one exists, otherwise seed a fresh
// tree from the target repository.
func (m *Manager) SessionForJob(ctx context.Context, jobID, repo string) (*Session, error) {
	m.mu.Lock()
	for _, s := range m.sessions {
		if s.JobID == jobID {
			s.touch()
			m.mu.Unlock()
			return s, nil
		}
	}
	m.mu.Unlock()

	s, err := m.restoreByJob(jobID)
	if err == nil {
		return s, nil
	}
	// Only a missing row falls through to seeding a fresh session; any other
	// restore failure must not create a duplicate persisted session.
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	tree, err := m.LoadRepoTree(ctx, repo)
	if err != nil {
		return nil, err
	}
	s = &Session{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Repo:       repo,
		tree:       tree,
		pending:    make(map[string]string),
		sources:    make(map[string]string),
		lastAccess: time.Now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if err := m.persist(s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateDemoSession creates an ephemeral session not tied to any job. It is
// never persisted and is reaped after idle timeout.
func (m *Manager) CreateDemoSession(ctx context.Context, repo string) (*Session, error) {
	tree, err := m.LoadRepoTree(ctx, repo)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:         uuid.NewString(),
		Repo:       repo,
		Demo:       true,
		tree:       tree,
		pending:    make(map[string]string),
		sources:    make(map[string]string),
		lastAccess: time.Now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// GetSession returns a session by id, restoring a persisted job session if
// it is not in memory.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.touch()
		return s, nil
	}
	return m.restoreByID(id)
}

// DeleteSession removes a session and its persisted row. Deleting a
// nonexistent session is a no-op.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.Where("id = ?", id).Delete(&models.SandboxSession{}).Error; err != nil {
			return fmt.Errorf("sandbox: delete session %s: %w", id, err)
		}
	}
	return nil
}

// DeleteSessionForJob tears down the session bound to the given job, if any.
func (m *Manager) DeleteSessionForJob(jobID string) error {
	m.mu.Lock()
	var id string
	for _, s := range m.sessions {
		if s.JobID == jobID {
			id = s.ID
			break
		}
	}
	m.mu.Unlock()

	if id != "" {
		return m.DeleteSession(id)
	}
	if m.db != nil {
		if err := m.db.Where("job_id = ?", jobID).Delete(&models.SandboxSession{}).Error; err != nil {
			return fmt.Errorf("sandbox: delete session for job %s: %w", jobID, err)
		}
	}
	return nil
}

// SessionInfo is a read-only view of a session for introspection.
type SessionInfo struct {
	ID           string    `json:"id"`
	JobID        string    `json:"jobId,omitempty"`
	Repo         string    `json:"repo"`
	Demo         bool      `json:"demo"`
	TreeFiles    int       `json:"treeFiles"`
	PendingFiles int       `json:"pendingFiles"`
	LastAccess   time.Time `json:"lastAccess"`
}

// ListSessions returns info for all live sessions, ordered by id.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.RLock()
		infos = append(infos, SessionInfo{
			ID:           s.ID,
			JobID:        s.JobID,
			Repo:         s.Repo,
			Demo:         s.Demo,
			TreeFiles:    len(s.tree),
			PendingFiles: len(s.pending),
			LastAccess:   s.lastAccess,
		})
		s.mu.RUnlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// IsDemo reports whether the session is a demo session.
func (m *Manager) IsDemo(id string) (bool, error) {
	s, err := m.GetSession(id)
	if err != nil {
		return false, err
	}
	return s.Demo, nil
}

// ReapDemos deletes demo sessions idle for longer than maxIdle and returns
// how many were removed. Job-bound sessions are never reaped here; their
// lifecycle follows the job's.
func (m *Manager) ReapDemos(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.RLock()
		idle := s.Demo && s.lastAccess.Before(cutoff)
		s.mu.RUnlock()
		if idle {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	return len(stale)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// persist upserts the durable row for a job-bound session. Demo sessions
// are skipped.
func (m *Manager) persist(s *Session) error {
	if m.db == nil || s.Demo {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return m.persistRow(s.ID, s.JobID, s.Repo, s.tree, s.pending, s.lastAccess)
}

// persistRow writes the session row from caller-held state.
func (m *Manager) persistRow(id, jobID, repo string, tree, pending map[string]string, lastAccess time.Time) error {
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("sandbox: marshal tree for %s: %w", id, err)
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("sandbox: marshal pending for %s: %w", id, err)
	}
	row := models.SandboxSession{
		ID:         id,
		JobID:      jobID,
		Repo:       repo,
		Tree:       string(treeJSON),
		Pending:    string(pendingJSON),
		LastAccess: lastAccess,
	}

	result := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tree", "pending", "last_access"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("sandbox: persist session %s: %w", id, result.Error)
	}
	return nil
}

func (m *Manager) restoreByID(id string) (*Session, error) {
	return m.restore("id = ?", id)
}

func (m *Manager) restoreByJob(jobID string) (*Session, error) {
	return m.restore("job_id = ?", jobID)
}

func (m *Manager) restore(query string, arg string) (*Session, error) {
	if m.db == nil {
		return nil, fmt.Errorf("sandbox: %s: %w", arg, ErrSessionNotFound)
	}
	var row models.SandboxSession
	if err := m.db.Where(query, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("sandbox: %s: %w", arg, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("sandbox: restore %s: %w", arg, err)
	}

	var tree, pending map[string]string
	if err := json.Unmarshal([]byte(row.Tree), &tree); err != nil {
		return nil, fmt.Errorf("sandbox: unmarshal tree for %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Pending), &pending); err != nil {
		return nil, fmt.Errorf("sandbox: unmarshal pending for %s: %w", row.ID, err)
	}
	if pending == nil {
		pending = make(map[string]string)
	}

	s := &Session{
		ID:         row.ID,
		JobID:      row.JobID,
		Repo:       row.Repo,
		tree:       tree,
		pending:    pending,
		sources:    make(map[string]string),
		lastAccess: time.Now(),
	}
	m.mu.Lock()
	// Another caller may have restored it concurrently; keep the first.
	if existing, ok := m.sessions[s.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}
