package testrun

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// storeRetries bounds how often the janitor rewrites an attempt whose insert
// failed. The learner can still retry with Submit afterwards.
const storeRetries = 3

type runKey struct {
	user uuid.UUID
	test uuid.UUID
}

// Manager owns the live sessions of a process. Each learner has at most one
// live run per test; starting again returns the existing one.
type Manager struct {
	deps      Deps
	retention time.Duration
	log       zerolog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	runs   map[uuid.UUID]*Session
	active map[runKey]uuid.UUID
	wg     sync.WaitGroup
}

// NewManager creates a manager. Finished runs stay reachable for retention
// so clients can still read the outcome.
func NewManager(deps Deps, retention time.Duration) *Manager {
	deps = deps.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:      deps,
		retention: retention,
		log:       deps.Log.With().Str("component", "run_manager").Logger(),
		base:      base,
		cancel:    cancel,
		runs:      make(map[uuid.UUID]*Session),
		active:    make(map[runKey]uuid.UUID),
	}
}

// Start loads a new run of testID for the caller, or returns the caller's
// live run of that test when one exists in memory or in the mirror.
func (m *Manager) Start(ctx context.Context, identity Identity, testID uuid.UUID) (*Session, error) {
	userID, ok := identity.CurrentUser(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	key := runKey{user: userID, test: testID}

	m.mu.Lock()
	if id, ok := m.active[key]; ok {
		if s := m.runs[id]; s != nil && s.live() {
			m.mu.Unlock()
			return s, nil
		}
		delete(m.active, key)
	}
	m.mu.Unlock()

	if runID, found, err := m.deps.Recorder.FindActive(ctx, userID, testID); err != nil {
		m.log.Warn().Err(err).Msg("Active run lookup failed")
	} else if found {
		s, err := m.restore(ctx, runID, identity)
		if err == nil {
			return s, nil
		}
		m.log.Warn().Err(err).Str("run_id", runID.String()).Msg("Discarding unrestorable run")
	}

	s := New(uuid.New(), testID, identity, m.deps)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return m.adopt(key, s), nil
}

// Get returns a run owned by the caller, restoring it from the mirror when
// this process does not hold it.
func (m *Manager) Get(ctx context.Context, runID uuid.UUID, identity Identity) (*Session, error) {
	userID, ok := identity.CurrentUser(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}

	m.mu.Lock()
	s := m.runs[runID]
	m.mu.Unlock()

	if s == nil {
		var err error
		if s, err = m.restore(ctx, runID, identity); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	owner := s.owner
	s.mu.Unlock()
	if owner != userID {
		return nil, ErrForbidden
	}
	return s, nil
}

func (m *Manager) restore(ctx context.Context, runID uuid.UUID, identity Identity) (*Session, error) {
	meta, saved, err := m.deps.Recorder.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if userID, ok := identity.CurrentUser(ctx); !ok || userID != meta.UserID {
		return nil, ErrForbidden
	}

	s := New(meta.RunID, meta.TestID, identity, m.deps)
	if err := s.restore(ctx, meta, saved); err != nil {
		return nil, err
	}
	return m.adopt(runKey{user: meta.UserID, test: meta.TestID}, s), nil
}

// adopt registers s and starts its countdown. If another goroutine registered
// a live run for the same key first, that run wins and s is stopped.
func (m *Manager) adopt(key runKey, s *Session) *Session {
	m.mu.Lock()
	if id, ok := m.active[key]; ok {
		if existing := m.runs[id]; existing != nil && existing.live() {
			m.mu.Unlock()
			s.Stop()
			return existing
		}
	}
	m.runs[s.ID()] = s
	m.active[key] = s.ID()
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		s.Run(m.base)
	}()
	return s
}

// Sweep drops runs that finished more than retention ago. Runs stuck in a
// retryable ERROR go too; their mirror lets Start restore them later.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.runs {
		at, done := s.finished()
		if !done || now.Sub(at) < m.retention {
			continue
		}
		delete(m.runs, id)
		for k, v := range m.active {
			if v == id {
				delete(m.active, k)
			}
		}
		n++
	}
	return n
}

// RetryFailed rewrites graded attempts whose insert failed, at most
// storeRetries times per run, and returns how many reached the store.
func (m *Manager) RetryFailed(ctx context.Context) int {
	m.mu.Lock()
	var pending []*Session
	for _, s := range m.runs {
		if s.pendingRetry() {
			pending = append(pending, s)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, s := range pending {
		if s.retryStored(ctx, storeRetries) {
			n++
		}
	}
	return n
}

// Janitor retries failed inserts and sweeps every interval until ctx is done.
func (m *Manager) Janitor(ctx context.Context, interval time.Duration) {
	t := m.deps.Clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.base.Done():
			return
		case <-t.C():
			if n := m.RetryFailed(ctx); n > 0 {
				m.log.Info().Int("saved", n).Msg("Stored attempts on retry")
			}
			if n := m.Sweep(m.deps.Clock.Now()); n > 0 {
				m.log.Debug().Int("removed", n).Msg("Swept finished runs")
			}
		}
	}
}

// LiveRun is a snapshot of a run tagged with the learner that owns it.
type LiveRun struct {
	UserID uuid.UUID `json:"user_id"`
	Snapshot
}

// Live returns the runs of testID held by this process, ACTIVE runs first
// and then by run id.
func (m *Manager) Live(testID uuid.UUID) []LiveRun {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.runs))
	for _, s := range m.runs {
		if s.testID == testID {
			sessions = append(sessions, s)
		}
	}
	m.mu.Unlock()

	out := make([]LiveRun, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, LiveRun{UserID: s.Owner(), Snapshot: s.Snapshot()})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].State == StateActive, out[j].State == StateActive
		if ai != aj {
			return ai
		}
		return out[i].RunID.String() < out[j].RunID.String()
	})
	return out
}

// Len is the number of runs held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Shutdown stops every countdown and waits for the loops to exit. Live runs
// stay in the mirror and resume on the next Start or Get.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
	m.log.Info().Msg("Run manager stopped")
}

// IsClientError reports whether err is caused by the request rather than
// by the server.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrUnauthenticated, ErrSubmitInProgress, ErrNotActive,
		ErrUnknownQuestion, ErrUnknownOption, ErrIndexOutOfRange, ErrRunNotFound, ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
