package testrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakePapers struct {
	papers map[uuid.UUID]*model.TestPaper
	err    error
}

func (f *fakePapers) GetPaper(_ context.Context, id uuid.UUID) (*model.TestPaper, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.papers[id]
	if !ok {
		return nil, fmt.Errorf("test %s: %w", id, model.ErrNotFound)
	}
	return p, nil
}

type fakeStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]model.Attempt
	calls    int
	fail     error
	gate     chan struct{}
	entered  chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: make(map[uuid.UUID]model.Attempt)}
}

func (f *fakeStore) InsertAttempt(ctx context.Context, a *model.Attempt) error {
	f.mu.Lock()
	f.calls++
	gate, entered, fail := f.gate, f.entered, f.fail
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.attempts[a.ID]; !ok {
		f.attempts[a.ID] = *a
	}
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// ─── Fixtures ────────────────────────────────────────────────────────────────

type fixture struct {
	paper  *model.TestPaper
	papers *fakePapers
	store  *fakeStore
	clock  *fakeClock
	user   uuid.UUID
}

func question(topic string, multiple bool, correct ...int) model.Question {
	q := model.Question{ID: uuid.New(), Topic: topic, Multiple: multiple, Title: topic}
	for i := 0; i < 4; i++ {
		opt := model.Option{ID: uuid.New(), QuestionID: q.ID, Text: fmt.Sprintf("opt %d", i)}
		for _, c := range correct {
			if c == i {
				opt.IsCorrect = true
			}
		}
		q.Options = append(q.Options, opt)
	}
	return q
}

func newFixture(minutes int, questions ...model.Question) *fixture {
	paper := &model.TestPaper{
		Test:      model.Test{ID: uuid.New(), Title: "Mock", DurationMinutes: minutes},
		Questions: questions,
	}
	return &fixture{
		paper:  paper,
		papers: &fakePapers{papers: map[uuid.UUID]*model.TestPaper{paper.Test.ID: paper}},
		store:  newFakeStore(),
		clock:  newFakeClock(),
		user:   uuid.New(),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Papers: f.papers,
		Store:  f.store,
		Clock:  f.clock,
		Log:    zerolog.Nop(),
	}
}

func (f *fixture) session(t *testing.T, identity Identity) *Session {
	t.Helper()
	s := New(uuid.New(), f.paper.Test.ID, identity, f.deps())
	require.NoError(t, s.Load(context.Background()))
	return s
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestSession_LoadEntersActiveWithFullCountdown(t *testing.T) {
	f := newFixture(60, question("A", false, 0), question("B", false, 1))
	s := f.session(t, StaticIdentity(f.user))

	snap := s.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, 3600, snap.RemainingSeconds)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 0, snap.Answered)
}

func TestSession_LoadMissingOrEmptyTest(t *testing.T) {
	f := newFixture(10)

	s := New(uuid.New(), f.paper.Test.ID, StaticIdentity(f.user), f.deps())
	err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StateError, s.Snapshot().State)
	assert.False(t, s.Snapshot().Retryable)

	missing := New(uuid.New(), uuid.New(), StaticIdentity(f.user), f.deps())
	assert.ErrorIs(t, missing.Load(context.Background()), ErrNotFound)

	_, err = missing.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.store.calls)
}

func TestSession_LoadStoreFailureIsNotNotFound(t *testing.T) {
	f := newFixture(10, question("A", false, 0))
	f.papers.err = errors.New("connection refused")

	s := New(uuid.New(), f.paper.Test.ID, StaticIdentity(f.user), f.deps())
	err := s.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StateError, s.Snapshot().State)
}

func TestSession_SingleSelectReplaces(t *testing.T) {
	q := question("A", false, 1)
	f := newFixture(5, q)
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	_, err := s.Select(ctx, q.ID, q.Options[0].ID)
	require.NoError(t, err)
	snap, err := s.Select(ctx, q.ID, q.Options[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{q.Options[1].ID}, snap.Selections[q.ID])

	// Re-clicking a single-select option keeps it selected.
	snap, err = s.Select(ctx, q.ID, q.Options[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{q.Options[1].ID}, snap.Selections[q.ID])
}

func TestSession_MultiSelectToggles(t *testing.T) {
	q := question("A", true, 0, 2)
	f := newFixture(5, q)
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	_, _ = s.Select(ctx, q.ID, q.Options[0].ID)
	snap, _ := s.Select(ctx, q.ID, q.Options[2].ID)
	assert.Equal(t, []uuid.UUID{q.Options[0].ID, q.Options[2].ID}, snap.Selections[q.ID])

	snap, _ = s.Select(ctx, q.ID, q.Options[0].ID)
	assert.Equal(t, []uuid.UUID{q.Options[2].ID}, snap.Selections[q.ID])

	snap, _ = s.Select(ctx, q.ID, q.Options[2].ID)
	assert.NotContains(t, snap.Selections, q.ID)
	assert.Equal(t, 0, snap.Answered)
}

func TestSession_SelectRejectsForeignIDs(t *testing.T) {
	q1, q2 := question("A", false, 0), question("B", false, 0)
	f := newFixture(5, q1)
	s := f.session(t, StaticIdentity(f.user))

	_, err := s.Select(context.Background(), q2.ID, q2.Options[0].ID)
	assert.ErrorIs(t, err, ErrUnknownQuestion)
	_, err = s.Select(context.Background(), q1.ID, q2.Options[0].ID)
	assert.ErrorIs(t, err, ErrUnknownOption)
}

func TestSession_AnsweredCountIgnoresEmptySelections(t *testing.T) {
	q1, q2, q3 := question("A", false, 1), question("B", true, 0), question("C", false, 0)
	f := newFixture(5, q1, q2, q3)
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	_, _ = s.Select(ctx, q1.ID, q1.Options[2].ID)
	_, _ = s.Select(ctx, q2.ID, q2.Options[1].ID)
	_, _ = s.Select(ctx, q2.ID, q2.Options[1].ID)

	assert.Equal(t, 1, s.AnsweredCount())
	assert.Equal(t, 3, s.Snapshot().Total)
}

func TestSession_GotoRandomAccess(t *testing.T) {
	f := newFixture(5, question("A", false, 0), question("B", false, 0), question("C", false, 0))
	s := f.session(t, StaticIdentity(f.user))

	snap, err := s.Goto(2)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Cursor)

	snap, err = s.Goto(0)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Cursor)

	idx, view, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, f.paper.Questions[0].ID, view.ID)

	_, err = s.Goto(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = s.Goto(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestSession_ShuffleUsesInjectedPermutation(t *testing.T) {
	a, b, c := question("A", false, 0), question("B", false, 0), question("C", false, 0)
	f := newFixture(5, a, b, c)
	f.paper.Test.Shuffle = true

	deps := f.deps()
	deps.Shuffle = func(n int, swap func(i, j int)) { swap(0, n-1) }
	s := New(uuid.New(), f.paper.Test.ID, StaticIdentity(f.user), deps)
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, []uuid.UUID{c.ID, b.ID, a.ID}, s.Snapshot().Order)
	assert.Equal(t, a.ID, f.paper.Questions[0].ID, "cached paper must not be reordered")
}

func TestSession_TimerNeverGoesNegative(t *testing.T) {
	f := newFixture(60, question("A", false, 0))
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	prev := s.Snapshot().RemainingSeconds
	for i := 0; i < 3600; i++ {
		s.Tick(ctx)
		cur := s.Snapshot().RemainingSeconds
		require.Less(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, 0, prev)

	for i := 0; i < 10; i++ {
		s.Tick(ctx)
	}
	snap := s.Snapshot()
	assert.Equal(t, 0, snap.RemainingSeconds)
	assert.Equal(t, StateSubmitted, snap.State)
	assert.Equal(t, 1, f.store.calls, "timeout must fire exactly once")
}

func TestSession_AutoSubmitScoresAnsweredQuestionsOnly(t *testing.T) {
	qs := []model.Question{
		question("A", false, 0),
		question("B", false, 1),
		question("C", false, 2),
		question("D", false, 3),
		question("E", true, 0, 1),
	}
	f := newFixture(1, qs...)
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	_, _ = s.Select(ctx, qs[0].ID, qs[0].Options[0].ID)
	_, _ = s.Select(ctx, qs[1].ID, qs[1].Options[1].ID)

	for i := 0; i < 60; i++ {
		s.Tick(ctx)
	}

	snap := s.Snapshot()
	require.Equal(t, StateSubmitted, snap.State)
	require.NotNil(t, snap.Score)
	assert.InDelta(t, 40.0, *snap.Score, 0.0001)

	require.Equal(t, 1, f.store.count())
	stored := f.store.attempts[*snap.AttemptID]
	assert.Equal(t, model.Summary{Correct: 2, Total: 5, Percentage: 40}, stored.Summary)
	assert.Equal(t, f.user, stored.UserID)
	assert.Len(t, stored.Result.Answers, 2)
}

func TestSession_RunLoopDrivesCountdown(t *testing.T) {
	f := newFixture(1, question("A", false, 0))
	s := f.session(t, StaticIdentity(f.user))

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.clock.mu.Lock()
		defer f.clock.mu.Unlock()
		return len(f.clock.tickers) == 1
	}, time.Second, time.Millisecond)
	ticker := f.clock.tickers[0]

	for i := 0; i < 60; i++ {
		ticker.ch <- f.clock.Now()
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit after timeout submit")
	}
	assert.Equal(t, StateSubmitted, s.Snapshot().State)
}

func TestSession_SubmitStopsRunLoop(t *testing.T) {
	f := newFixture(5, question("A", false, 0))
	s := f.session(t, StaticIdentity(f.user))

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	_, err := s.Submit(context.Background())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop still running after submit")
	}
}

func TestSession_NoDoubleSubmission(t *testing.T) {
	f := newFixture(5, question("A", false, 0), question("B", false, 0))
	f.store.gate = make(chan struct{})
	f.store.entered = make(chan struct{}, 1)
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	type result struct {
		a   *model.Attempt
		err error
	}
	first := make(chan result, 1)
	go func() {
		a, err := s.Submit(ctx)
		first <- result{a, err}
	}()

	<-f.store.entered
	assert.Equal(t, StateSubmitting, s.Snapshot().State)

	_, err := s.Submit(ctx)
	assert.ErrorIs(t, err, ErrSubmitInProgress)
	s.Tick(ctx)

	close(f.store.gate)
	r := <-first
	require.NoError(t, r.err)

	again, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.a.ID, again.ID)

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.store.calls)
}

func TestSession_PersistenceFailureKeepsAnswersAndRetries(t *testing.T) {
	q := question("A", false, 2)
	f := newFixture(5, q, question("B", false, 0))
	f.store.fail = errors.New("store unreachable")
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	_, _ = s.Select(ctx, q.ID, q.Options[2].ID)

	_, err := s.Submit(ctx)
	assert.ErrorIs(t, err, ErrPersistence)

	snap := s.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.True(t, snap.Retryable)
	assert.Equal(t, []uuid.UUID{q.Options[2].ID}, snap.Selections[q.ID])
	assert.Nil(t, snap.AttemptID)

	_, err = s.Select(ctx, q.ID, q.Options[0].ID)
	assert.ErrorIs(t, err, ErrNotActive, "answers are frozen once graded")

	f.clock.Advance(time.Minute)
	f.store.mu.Lock()
	f.store.fail = nil
	f.store.mu.Unlock()

	a, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, a.Score)
	assert.Equal(t, StateSubmitted, s.Snapshot().State)
	assert.Equal(t, 2, f.store.calls)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, f.clock.Now().Add(-time.Minute), *a.SubmittedAt, "retry reuses the first grading")
}

func TestSession_SubmitWithoutIdentity(t *testing.T) {
	var authed bool
	f := newFixture(5, question("A", false, 0))
	user := f.user
	identity := IdentityFunc(func(context.Context) (uuid.UUID, bool) { return user, authed })

	authed = true
	s := f.session(t, identity)
	_, _ = s.Select(context.Background(), f.paper.Questions[0].ID, f.paper.Questions[0].Options[0].ID)

	authed = false
	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	snap := s.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, 1, snap.Answered)
	assert.Zero(t, f.store.calls)

	authed = true
	a, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, a.Score)
}

func TestSession_TimeoutWithoutIdentityIsRetryable(t *testing.T) {
	var authed = true
	f := newFixture(1, question("A", false, 0))
	user := f.user
	s := f.session(t, IdentityFunc(func(context.Context) (uuid.UUID, bool) { return user, authed }))

	authed = false
	for i := 0; i < 60; i++ {
		s.Tick(context.Background())
	}
	snap := s.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.True(t, snap.Retryable)
	assert.Zero(t, f.store.calls)

	authed = true
	_, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, s.Snapshot().State)
}

func TestSession_SubmitByAnotherUserIsRejected(t *testing.T) {
	f := newFixture(5, question("A", false, 0))
	current := f.user
	s := f.session(t, IdentityFunc(func(context.Context) (uuid.UUID, bool) { return current, true }))

	current = uuid.New()
	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, f.store.calls)
}

func TestSession_SubscribeStreamsChanges(t *testing.T) {
	f := newFixture(5, question("A", false, 0), question("B", false, 0))
	s := f.session(t, StaticIdentity(f.user))

	ch, cancel := s.Subscribe()
	defer cancel()

	initial := <-ch
	assert.Equal(t, StateActive, initial.State)

	_, err := s.Goto(1)
	require.NoError(t, err)
	next := <-ch
	assert.Equal(t, 1, next.Cursor)

	s.Tick(context.Background())
	ticked := <-ch
	assert.Equal(t, 299, ticked.RemainingSeconds)
}

func TestSession_StalledSubscriberSeesSubmittedState(t *testing.T) {
	f := newFixture(5, question("A", false, 0))
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		s.Tick(ctx)
	}
	_, err := s.Submit(ctx)
	require.NoError(t, err)

	last := <-ch
	assert.Equal(t, StateSubmitted, last.State)
	assert.Equal(t, 290, last.RemainingSeconds)
	require.NotNil(t, last.AttemptID)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected queued snapshot in state %s", extra.State)
	default:
	}
}

func TestSession_SubscriberSeesSnapshotsInOrder(t *testing.T) {
	f := newFixture(5, question("A", false, 0))
	s := f.session(t, StaticIdentity(f.user))
	ctx := context.Background()

	ch, cancel := s.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(4)
	for w := 0; w < 4; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				s.Tick(ctx)
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	prev := 5 * 60
	for {
		select {
		case snap := <-ch:
			assert.LessOrEqual(t, snap.RemainingSeconds, prev)
			prev = snap.RemainingSeconds
			continue
		case <-done:
		}
		break
	}
	select {
	case snap := <-ch:
		prev = snap.RemainingSeconds
	default:
	}
	assert.Equal(t, 200, prev)
}

func TestSession_RestoreResumesRemainingTime(t *testing.T) {
	q := question("A", false, 0)
	f := newFixture(10, q, question("B", false, 1))
	meta := &Meta{
		RunID:     uuid.New(),
		TestID:    f.paper.Test.ID,
		UserID:    f.user,
		AttemptID: uuid.New(),
		StartedAt: f.clock.Now(),
		Order:     []uuid.UUID{f.paper.Questions[1].ID, q.ID},
		Duration:  10,
	}
	f.clock.Advance(4 * time.Minute)

	s := New(meta.RunID, meta.TestID, StaticIdentity(f.user), f.deps())
	require.NoError(t, s.restore(context.Background(), meta, map[uuid.UUID][]uuid.UUID{
		q.ID:       {q.Options[0].ID},
		uuid.New(): {uuid.New()},
	}))

	snap := s.Snapshot()
	assert.Equal(t, 360, snap.RemainingSeconds)
	assert.Equal(t, meta.Order, snap.Order)
	assert.Equal(t, 1, snap.Answered)

	a, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, meta.AttemptID, a.ID)
	assert.Equal(t, meta.StartedAt, a.StartedAt)
}

func TestSession_RestoreAfterDeadlineSubmitsImmediately(t *testing.T) {
	f := newFixture(1, question("A", false, 0))
	meta := &Meta{
		RunID:     uuid.New(),
		TestID:    f.paper.Test.ID,
		UserID:    f.user,
		AttemptID: uuid.New(),
		StartedAt: f.clock.Now(),
	}
	f.clock.Advance(5 * time.Minute)

	s := New(meta.RunID, meta.TestID, StaticIdentity(f.user), f.deps())
	require.NoError(t, s.restore(context.Background(), meta, nil))
	assert.Equal(t, 0, s.Snapshot().RemainingSeconds)

	s.Run(context.Background())
	assert.Equal(t, StateSubmitted, s.Snapshot().State)
	assert.Equal(t, 1, f.store.count())
}
