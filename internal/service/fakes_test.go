package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/repository"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// ─── Profiles ────────────────────────────────────────────────────────────────

type memProfiles struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Profile
}

func newMemProfiles() *memProfiles {
	return &memProfiles{byID: make(map[uuid.UUID]*model.Profile)}
}

func (m *memProfiles) Create(_ context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Email = strings.ToLower(p.Email)
	for _, existing := range m.byID {
		if existing.Email == p.Email {
			return repository.ErrDuplicate
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memProfiles) GetByID(_ context.Context, id uuid.UUID) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, model.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) GetByEmail(_ context.Context, email string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Email == strings.ToLower(email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("profile: %w", model.ErrNotFound)
}

func (m *memProfiles) UpdateDetails(_ context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; !ok {
		return fmt.Errorf("profile %s: %w", p.ID, model.ErrNotFound)
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

// ─── Tests and papers ────────────────────────────────────────────────────────

type memTests struct {
	mu        sync.Mutex
	tests     map[uuid.UUID]*model.Test
	questions map[uuid.UUID][]model.Question
	subjectOf map[uuid.UUID]uuid.UUID
	loads     atomic.Int32
	gate      chan struct{}
}

func newMemTests() *memTests {
	return &memTests{
		tests:     make(map[uuid.UUID]*model.Test),
		questions: make(map[uuid.UUID][]model.Question),
		subjectOf: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *memTests) add(t model.Test, qs ...model.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[t.ID] = &t
	m.questions[t.ID] = qs
	for _, q := range qs {
		m.subjectOf[q.ID] = q.SubjectID
	}
}

func (m *memTests) GetByID(_ context.Context, id uuid.UUID) (*model.Test, error) {
	m.loads.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[id]
	if !ok {
		return nil, fmt.Errorf("test %s: %w", id, model.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *memTests) ListBySubject(_ context.Context, subjectID uuid.UUID, playableOnly bool) ([]model.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Test{}
	for id, t := range m.tests {
		if t.SubjectID != subjectID || (playableOnly && len(m.questions[id]) == 0) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *memTests) Create(_ context.Context, t *model.Test) error {
	t.ID = uuid.New()
	m.add(*t)
	return nil
}

func (m *memTests) Update(_ context.Context, t *model.Test) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tests[t.ID] = &cp
	return nil
}

func (m *memTests) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tests, id)
	return nil
}

func (m *memTests) SetQuestions(_ context.Context, testID uuid.UUID, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs := make([]model.Question, len(ids))
	for i, id := range ids {
		qs[i] = model.Question{ID: id, SubjectID: m.subjectOf[id]}
	}
	m.questions[testID] = qs
	return nil
}

func (m *memTests) ListByTest(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Question(nil), m.questions[testID]...), nil
}

func (m *memTests) CountInSubject(_ context.Context, subjectID uuid.UUID, ids []uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if m.subjectOf[id] == subjectID {
			n++
		}
	}
	return n, nil
}

// ─── Attempts ────────────────────────────────────────────────────────────────

type memAttempts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Attempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{byID: make(map[uuid.UUID]model.Attempt)}
}

func (m *memAttempts) Insert(_ context.Context, a *model.Attempt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[a.ID]; ok {
		return false, nil
	}
	m.byID[a.ID] = *a
	return true, nil
}

func (m *memAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", id, model.ErrNotFound)
	}
	return &a, nil
}

func (m *memAttempts) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Attempt{}
	for _, a := range m.byID {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAttempts) ListFiltered(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, int, error) {
	all, _ := m.ListAll(ctx, f)
	start := (f.Page - 1) * f.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := min(start+f.PerPage, len(all))
	return all[start:end], len(all), nil
}

func (m *memAttempts) ListAll(_ context.Context, _ model.AttemptFilter) ([]model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Attempt{}
	for _, a := range m.byID {
		out = append(out, a)
	}
	return out, nil
}
