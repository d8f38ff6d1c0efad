package jerry

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctagard/jerry-coverage/internal/coverage"
	"github.com/ctagard/jerry-coverage/internal/errors"
	"github.com/ctagard/jerry-coverage/pkg/types"
)

// Options configures one coverage run.
type Options struct {
	// Address is the "host:port" of the debug server.
	Address string
	// Output is the coverage file, merged on start and rewritten on a clean end.
	Output string
	// PollInterval is the pause between polls while the engine runs.
	PollInterval time.Duration
	Verbose      bool
	Logger       *log.Logger
}

// Session is one coverage run against a debug server.
type Session struct {
	ID         string
	Address    string
	Output     string
	Status     types.SessionStatus
	Config     SessionConfig
	Stats      types.RunStats
	Err        error
	CreatedAt  time.Time
	FinishedAt time.Time

	mu sync.RWMutex
}

func newSession(opts Options) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Address:   opts.Address,
		Output:    opts.Output,
		Status:    types.SessionStatusConnecting,
		CreatedAt: time.Now(),
	}
}

// Info returns a snapshot of the session for reporting.
func (s *Session) Info() types.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := types.SessionInfo{
		SessionID: s.ID,
		Address:   s.Address,
		Output:    s.Output,
		Status:    s.Status,
		StartedAt: s.CreatedAt,
	}
	if s.Status != types.SessionStatusConnecting {
		info.Config = s.Config.String()
	}
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		info.FinishedAt = &finished
		stats := s.Stats
		info.Stats = &stats
	}
	if s.Err != nil {
		info.Error = s.Err.Error()
	}
	return info
}

func (s *Session) setRunning(cfg SessionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = types.SessionStatusRunning
	s.Config = cfg
}

func (s *Session) finish(stats types.RunStats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats = stats
	s.Err = err
	s.FinishedAt = time.Now()
	if err != nil {
		s.Status = types.SessionStatusFailed
	} else {
		s.Status = types.SessionStatusFinished
	}
}

// Collect runs a complete coverage session: it loads the existing coverage
// file, connects to the debug server, drives the engine until it closes
// the connection and then saves the merged coverage. Coverage is saved
// only on that clean end; on any error or cancellation the file is left
// untouched.
func Collect(ctx context.Context, opts Options) (*Session, error) {
	s := newSession(opts)
	stats, err := s.collect(ctx, opts)
	s.finish(stats, err)
	return s, err
}

func (s *Session) collect(ctx context.Context, opts Options) (types.RunStats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	store, err := coverage.Load(opts.Output)
	if err != nil {
		return types.RunStats{}, err
	}

	logger.Printf("Connecting to: %s", opts.Address)
	transport, err := DialContext(ctx, opts.Address)
	if err != nil {
		return types.RunStats{}, err
	}
	defer transport.Close()

	// Closing the connection unblocks a read waiting inside a parse unit.
	stop := context.AfterFunc(ctx, func() { transport.Close() })
	defer stop()

	s.setRunning(transport.Config())
	logger.Printf("Session %s connected: %s", s.ID, transport.Config())

	client := NewClient(transport, store)
	client.SetLogger(logger)
	client.SetVerbose(opts.Verbose)

	if err := client.Run(ctx, opts.PollInterval); err != nil {
		if ctx.Err() != nil {
			return client.Stats(), ctx.Err()
		}
		return client.Stats(), err
	}
	if ctx.Err() != nil {
		return client.Stats(), ctx.Err()
	}

	if err := store.Save(); err != nil {
		return client.Stats(), err
	}
	logger.Printf("Coverage written to %s", store.Path())
	return client.Stats(), nil
}

// SessionManager runs coverage sessions one at a time and remembers the
// finished ones.
type SessionManager struct {
	sessions map[string]*Session
	activeID string
	mu       sync.RWMutex
}

// NewSessionManager creates a session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Collect runs a session unless another one is still active.
func (sm *SessionManager) Collect(ctx context.Context, opts Options) (*Session, error) {
	s := newSession(opts)

	sm.mu.Lock()
	if sm.activeID != "" {
		active := sm.activeID
		sm.mu.Unlock()
		return nil, errors.RunInProgress(active)
	}
	sm.activeID = s.ID
	sm.sessions[s.ID] = s
	sm.mu.Unlock()

	stats, err := s.collect(ctx, opts)
	s.finish(stats, err)

	sm.mu.Lock()
	sm.activeID = ""
	sm.mu.Unlock()

	return s, err
}

// GetSession retrieves a session by ID
func (sm *SessionManager) GetSession(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// ActiveSession returns the running session, if any.
func (sm *SessionManager) ActiveSession() (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.activeID == "" {
		return nil, false
	}
	return sm.sessions[sm.activeID], true
}

// ListSessions returns all sessions, oldest first
func (sm *SessionManager) ListSessions() []types.SessionInfo {
	sm.mu.RLock()
	infos := make([]types.SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		infos = append(infos, s.Info())
	}
	sm.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}
