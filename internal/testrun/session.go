// Package testrun drives one learner's timed attempt at a test, from loading
// the paper to persisting the graded attempt.
//
// A Session moves LOADING -> ACTIVE -> SUBMITTING -> SUBMITTED. ERROR is
// reachable from LOADING (missing test, load failure) and from SUBMITTING
// (store failure, or timeout without an authenticated user). An ERROR entered
// while submitting keeps the graded attempt and can be retried with Submit.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/scoring"
)

// State is the lifecycle stage of a Session.
type State string

const (
	StateLoading    State = "LOADING"
	StateActive     State = "ACTIVE"
	StateSubmitting State = "SUBMITTING"
	StateSubmitted  State = "SUBMITTED"
	StateError      State = "ERROR"
)

// Snapshot is a consistent, copy-on-read view of a session.
type Snapshot struct {
	RunID            uuid.UUID                 `json:"run_id"`
	TestID           uuid.UUID                 `json:"test_id"`
	Title            string                    `json:"title"`
	State            State                     `json:"state"`
	RemainingSeconds int                       `json:"remaining_seconds"`
	Cursor           int                       `json:"cursor"`
	Answered         int                       `json:"answered"`
	Total            int                       `json:"total"`
	Order            []uuid.UUID               `json:"order"`
	Selections       map[uuid.UUID][]uuid.UUID `json:"selections"`
	AttemptID        *uuid.UUID                `json:"attempt_id,omitempty"`
	Score            *float64                  `json:"score,omitempty"`
	Error            string                    `json:"error,omitempty"`
	Retryable        bool                      `json:"retryable"`
}

// Session is one learner's run of a test.
type Session struct {
	id       uuid.UUID
	testID   uuid.UUID
	identity Identity
	deps     Deps
	log      zerolog.Logger

	mu         sync.Mutex
	state      State
	err        error
	retryable  bool
	owner      uuid.UUID
	test       model.Test
	questions  []model.Question
	index      map[uuid.UUID]int
	selections map[uuid.UUID][]uuid.UUID
	cursor     int
	remaining  int
	attemptID  uuid.UUID
	startedAt  time.Time
	finishedAt time.Time
	attempt    *model.Attempt
	retries    int
	running    bool
	stop       chan struct{}
	stopped    bool
	subs       map[chan Snapshot]struct{}
}

// New creates a session in LOADING. Call Load before anything else.
func New(runID, testID uuid.UUID, identity Identity, deps Deps) *Session {
	deps = deps.withDefaults()
	return &Session{
		id:         runID,
		testID:     testID,
		identity:   identity,
		deps:       deps,
		log:        deps.Log.With().Str("component", "test_run").Str("run_id", runID.String()).Logger(),
		state:      StateLoading,
		selections: make(map[uuid.UUID][]uuid.UUID),
		stop:       make(chan struct{}),
		subs:       make(map[chan Snapshot]struct{}),
	}
}

// ID returns the run id.
func (s *Session) ID() uuid.UUID { return s.id }

// Load fetches the paper and enters ACTIVE with a full countdown.
func (s *Session) Load(ctx context.Context) error {
	return s.load(ctx, nil, nil)
}

// restore rebuilds a mirrored run. Remaining time is measured from the
// original start and may already be zero.
func (s *Session) restore(ctx context.Context, meta *Meta, saved map[uuid.UUID][]uuid.UUID) error {
	return s.load(ctx, meta, saved)
}

func (s *Session) load(ctx context.Context, meta *Meta, saved map[uuid.UUID][]uuid.UUID) error {
	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.mu.Unlock()

	owner, ok := s.identity.CurrentUser(ctx)
	if !ok {
		return s.failLoad(ErrUnauthenticated)
	}

	paper, err := s.deps.Papers.GetPaper(ctx, s.testID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return s.failLoad(ErrNotFound)
	case err != nil:
		return s.failLoad(fmt.Errorf("load paper: %w", err))
	case paper == nil || len(paper.Questions) == 0:
		return s.failLoad(ErrNotFound)
	}

	questions := append([]model.Question(nil), paper.Questions...)
	now := s.deps.Clock.Now()
	total := paper.Test.DurationMinutes * 60

	s.mu.Lock()
	s.owner = owner
	s.test = paper.Test
	if meta != nil {
		questions = reorder(questions, meta.Order)
		s.attemptID = meta.AttemptID
		s.startedAt = meta.StartedAt
		elapsed := int(now.Sub(meta.StartedAt) / time.Second)
		s.remaining = max(total-elapsed, 0)
	} else {
		if paper.Test.Shuffle {
			s.deps.Shuffle(len(questions), func(i, j int) {
				questions[i], questions[j] = questions[j], questions[i]
			})
		}
		s.attemptID = uuid.New()
		s.startedAt = now
		s.remaining = total
	}
	s.questions = questions
	s.index = make(map[uuid.UUID]int, len(questions))
	for i, q := range questions {
		s.index[q.ID] = i
	}
	for qid, opts := range saved {
		if i, ok := s.index[qid]; ok && len(opts) > 0 && allOptions(&s.questions[i], opts) {
			s.selections[qid] = opts
		}
	}
	s.state = StateActive
	m := s.metaLocked()
	snap := s.snapshotLocked()
	s.publishLocked(snap)
	s.mu.Unlock()

	if meta == nil {
		ttl := time.Duration(paper.Test.DurationMinutes)*time.Minute + s.deps.SnapshotTTL
		if err := s.deps.Recorder.SaveMeta(ctx, m, ttl); err != nil {
			s.log.Warn().Err(err).Msg("Failed to mirror run metadata")
		}
	}

	s.log.Info().
		Str("test_id", s.testID.String()).
		Int("questions", len(questions)).
		Int("remaining", snap.RemainingSeconds).
		Bool("restored", meta != nil).
		Msg("Run active")
	return nil
}

func (s *Session) failLoad(err error) error {
	s.mu.Lock()
	s.state = StateError
	s.err = err
	s.retryable = false
	s.finishedAt = s.deps.Clock.Now()
	s.publishLocked(s.snapshotLocked())
	s.mu.Unlock()
	return err
}

// Select records a click on an option. Single-select questions replace the
// selection; multi-select questions toggle the option in or out.
func (s *Session) Select(ctx context.Context, questionID, optionID uuid.UUID) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return Snapshot{}, ErrNotActive
	}
	i, ok := s.index[questionID]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, ErrUnknownQuestion
	}
	q := &s.questions[i]
	if !q.HasOption(optionID) {
		s.mu.Unlock()
		return Snapshot{}, ErrUnknownOption
	}

	var next []uuid.UUID
	if q.Multiple {
		next = toggle(s.selections[questionID], optionID)
	} else {
		next = []uuid.UUID{optionID}
	}
	if len(next) == 0 {
		delete(s.selections, questionID)
	} else {
		s.selections[questionID] = next
	}
	snap := s.snapshotLocked()
	s.publishLocked(snap)
	s.mu.Unlock()

	if err := s.deps.Recorder.SaveSelection(ctx, s.id, questionID, next); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("Failed to mirror selection")
	}
	return snap, nil
}

// Goto moves the cursor to any question index.
func (s *Session) Goto(index int) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return Snapshot{}, ErrNotActive
	}
	if index < 0 || index >= len(s.questions) {
		s.mu.Unlock()
		return Snapshot{}, ErrIndexOutOfRange
	}
	s.cursor = index
	snap := s.snapshotLocked()
	s.publishLocked(snap)
	s.mu.Unlock()
	return snap, nil
}

// Current returns the question under the cursor without its answer key.
func (s *Session) Current() (int, model.QuestionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.questions) == 0 {
		return 0, model.QuestionView{}, ErrNotActive
	}
	return s.cursor, s.questions[s.cursor].View(), nil
}

// Questions returns the paper in presentation order without answer keys.
func (s *Session) Questions() []model.QuestionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]model.QuestionView, len(s.questions))
	for i := range s.questions {
		views[i] = s.questions[i].View()
	}
	return views
}

// AnsweredCount is the number of questions with a non-empty selection.
func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answeredLocked()
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Tick advances the countdown by one second. Reaching zero submits once;
// ticks outside ACTIVE or at zero do nothing.
func (s *Session) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateActive || s.remaining == 0 {
		s.mu.Unlock()
		return
	}
	s.remaining--
	expired := s.remaining == 0
	s.publishLocked(s.snapshotLocked())
	s.mu.Unlock()

	if expired {
		s.expire(ctx)
	}
}

func (s *Session) expire(ctx context.Context) {
	s.log.Info().Msg("Time is up, submitting")
	if _, err := s.submit(ctx, true); err != nil && !errors.Is(err, ErrSubmitInProgress) {
		s.log.Warn().Err(err).Msg("Auto-submit failed")
	}
}

// Run is the countdown loop. It ticks once per second until the session
// leaves ACTIVE or ctx is done. A second concurrent Run returns at once.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := s.stop
	expired := s.remaining == 0
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if expired {
		s.expire(ctx)
		return
	}

	t := s.deps.Clock.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-t.C():
			s.Tick(ctx)
		}
	}
}

// Submit grades and persists the run. It is safe to call repeatedly:
//   - while a write is outstanding it returns ErrSubmitInProgress
//   - after success it returns the stored attempt again
//   - after a failed write it retries the same graded attempt
//
// With no authenticated user it returns ErrUnauthenticated and keeps the run
// as it was.
func (s *Session) Submit(ctx context.Context) (*model.Attempt, error) {
	return s.submit(ctx, false)
}

func (s *Session) submit(ctx context.Context, auto bool) (*model.Attempt, error) {
	s.mu.Lock()
	switch s.state {
	case StateSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmitInProgress
	case StateSubmitted:
		a := *s.attempt
		s.mu.Unlock()
		return &a, nil
	case StateActive:
	case StateError:
		if !s.retryable {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
	default:
		s.mu.Unlock()
		return nil, ErrNotActive
	}

	userID, ok := s.identity.CurrentUser(ctx)
	if !ok || userID != s.owner {
		if auto {
			s.stopTimerLocked()
			s.setErrorLocked(ErrUnauthenticated)
			s.publishLocked(s.snapshotLocked())
		}
		s.mu.Unlock()
		return nil, ErrUnauthenticated
	}

	if s.attempt == nil {
		s.attempt = s.gradeLocked()
	}
	return s.persistLocked(ctx, auto)
}

// persistLocked moves the graded attempt through SUBMITTING and writes it.
// It is entered with s.mu held and releases it.
func (s *Session) persistLocked(ctx context.Context, auto bool) (*model.Attempt, error) {
	s.stopTimerLocked()
	s.state = StateSubmitting
	s.err = nil
	attempt := *s.attempt
	s.publishLocked(s.snapshotLocked())
	s.mu.Unlock()

	writeCtx := ctx
	if s.deps.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.deps.SubmitTimeout)
		defer cancel()
	}
	err := s.deps.Store.InsertAttempt(writeCtx, &attempt)

	s.mu.Lock()
	if err != nil {
		s.setErrorLocked(fmt.Errorf("%w: %v", ErrPersistence, err))
		failure := s.err
		s.publishLocked(s.snapshotLocked())
		s.mu.Unlock()

		s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Attempt insert failed")
		return nil, failure
	}
	s.state = StateSubmitted
	s.finishedAt = s.deps.Clock.Now()
	m := s.metaLocked()
	s.publishLocked(s.snapshotLocked())
	s.mu.Unlock()

	if err := s.deps.Recorder.Clear(ctx, m); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear run mirror")
	}
	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Float64("score", attempt.Score).
		Bool("auto", auto).
		Msg("Attempt submitted")
	return &attempt, nil
}

// retryStored writes a graded attempt that is stuck in ERROR again. The
// grade is already bound to the owner, so no identity is consulted. It
// reports false when there was nothing to retry or the budget is spent.
func (s *Session) retryStored(ctx context.Context, budget int) bool {
	s.mu.Lock()
	if s.state != StateError || !s.retryable || s.attempt == nil || s.retries >= budget {
		s.mu.Unlock()
		return false
	}
	s.retries++
	s.log.Info().Int("retry", s.retries).Msg("Retrying attempt insert")
	_, err := s.persistLocked(ctx, true)
	return err == nil
}

// Subscribe streams snapshots after every change and tick. The channel holds
// only the newest snapshot: a slow reader skips intermediate ones but always
// sees the latest. cancel must be called to release the channel.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

// Stop cancels the countdown without submitting, for teardown.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
}

// Owner is the learner the session was started for.
func (s *Session) Owner() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// finished reports when the session stopped in SUBMITTED or ERROR. A
// retryable ERROR counts too: its attempt is still in the mirror.
func (s *Session) finished() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := s.state == StateSubmitted || s.state == StateError
	return s.finishedAt, done
}

// live reports whether Start should hand this session back to its owner.
func (s *Session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateSubmitted:
		return false
	case StateError:
		return s.retryable
	}
	return true
}

func (s *Session) pendingRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateError && s.retryable && s.attempt != nil
}

func (s *Session) gradeLocked() *model.Attempt {
	outcome := scoring.Score(s.questions, s.selections)
	submittedAt := s.deps.Clock.Now()
	return &model.Attempt{
		ID:          s.attemptID,
		UserID:      s.owner,
		TestID:      s.testID,
		StartedAt:   s.startedAt,
		SubmittedAt: &submittedAt,
		Score:       outcome.Score,
		TotalMarks:  outcome.Total,
		Summary:     outcome.Summary(),
		Result:      outcome.Payload(),
	}
}

func (s *Session) setErrorLocked(err error) {
	s.state = StateError
	s.err = err
	s.retryable = true
	s.finishedAt = s.deps.Clock.Now()
}

func (s *Session) stopTimerLocked() {
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}

func (s *Session) answeredLocked() int {
	n := 0
	for _, q := range s.questions {
		if len(s.selections[q.ID]) > 0 {
			n++
		}
	}
	return n
}

func (s *Session) metaLocked() Meta {
	order := make([]uuid.UUID, len(s.questions))
	for i, q := range s.questions {
		order[i] = q.ID
	}
	return Meta{
		RunID:     s.id,
		TestID:    s.testID,
		UserID:    s.owner,
		AttemptID: s.attemptID,
		StartedAt: s.startedAt,
		Order:     order,
		Duration:  s.test.DurationMinutes,
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		RunID:            s.id,
		TestID:           s.testID,
		Title:            s.test.Title,
		State:            s.state,
		RemainingSeconds: s.remaining,
		Cursor:           s.cursor,
		Answered:         s.answeredLocked(),
		Total:            len(s.questions),
		Order:            make([]uuid.UUID, len(s.questions)),
		Selections:       make(map[uuid.UUID][]uuid.UUID, len(s.selections)),
		Retryable:        s.retryable,
	}
	for i, q := range s.questions {
		snap.Order[i] = q.ID
	}
	for qid, opts := range s.selections {
		snap.Selections[qid] = append([]uuid.UUID(nil), opts...)
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if s.state == StateSubmitted && s.attempt != nil {
		id := s.attempt.ID
		score := s.attempt.Score
		snap.AttemptID = &id
		snap.Score = &score
	}
	return snap
}

// publishLocked replaces whatever each subscriber has not read yet with
// snap. Callers hold s.mu, so subscribers see snapshots in order.
func (s *Session) publishLocked(snap Snapshot) {
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func toggle(current []uuid.UUID, id uuid.UUID) []uuid.UUID {
	next := make([]uuid.UUID, 0, len(current)+1)
	found := false
	for _, c := range current {
		if c == id {
			found = true
			continue
		}
		next = append(next, c)
	}
	if !found {
		next = append(next, id)
	}
	return next
}

func allOptions(q *model.Question, opts []uuid.UUID) bool {
	for _, o := range opts {
		if !q.HasOption(o) {
			return false
		}
	}
	return true
}

// reorder arranges questions by order. Questions missing from order keep
// their relative position at the end.
func reorder(questions []model.Question, order []uuid.UUID) []model.Question {
	if len(order) == 0 {
		return questions
	}
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make([]model.Question, 0, len(questions))
	for _, id := range order {
		if q, ok := byID[id]; ok {
			out = append(out, q)
			delete(byID, id)
		}
	}
	for _, q := range questions {
		if _, ok := byID[q.ID]; ok {
			out = append(out, q)
		}
	}
	return out
}
