package testrun

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// Domain errors.
var (
	ErrNotFound         = errors.New("test not found or has no questions")
	ErrUnauthenticated  = errors.New("no authenticated user for this run")
	ErrPersistence      = errors.New("attempt could not be saved")
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrNotActive        = errors.New("run is not active")
	ErrUnknownQuestion  = errors.New("question is not part of this test")
	ErrUnknownOption    = errors.New("option does not belong to question")
	ErrIndexOutOfRange  = errors.New("question index out of range")
	ErrRunNotFound      = errors.New("run not found")
	ErrForbidden        = errors.New("run belongs to another user")
)

// PaperSource loads the paper of a test. A missing test is reported with an
// error wrapping model.ErrNotFound.
type PaperSource interface {
	GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error)
}

// AttemptStore persists a finished attempt. Inserting the same attempt id
// twice must succeed without creating a second record.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, a *model.Attempt) error
}

// Identity supplies the learner a run submits for. ok is false when nobody
// is authenticated.
type Identity interface {
	CurrentUser(ctx context.Context) (userID uuid.UUID, ok bool)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(ctx context.Context) (uuid.UUID, bool)

func (f IdentityFunc) CurrentUser(ctx context.Context) (uuid.UUID, bool) { return f(ctx) }

// StaticIdentity always reports userID as authenticated.
func StaticIdentity(userID uuid.UUID) Identity {
	return IdentityFunc(func(context.Context) (uuid.UUID, bool) { return userID, true })
}

// Ticker is the part of time.Ticker the timer loop uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts wall time for the countdown.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Recorder mirrors live runs outside the process so they survive a restart.
type Recorder interface {
	SaveMeta(ctx context.Context, meta Meta, ttl time.Duration) error
	SaveSelection(ctx context.Context, runID, questionID uuid.UUID, options []uuid.UUID) error
	Load(ctx context.Context, runID uuid.UUID) (*Meta, map[uuid.UUID][]uuid.UUID, error)
	FindActive(ctx context.Context, userID, testID uuid.UUID) (uuid.UUID, bool, error)
	Clear(ctx context.Context, meta Meta) error
}

// Meta is the restorable description of a run.
type Meta struct {
	RunID     uuid.UUID   `json:"run_id"`
	TestID    uuid.UUID   `json:"test_id"`
	UserID    uuid.UUID   `json:"user_id"`
	AttemptID uuid.UUID   `json:"attempt_id"`
	StartedAt time.Time   `json:"started_at"`
	Order     []uuid.UUID `json:"order"`
	Duration  int         `json:"duration_minutes"`
}

type nopRecorder struct{}

func (nopRecorder) SaveMeta(context.Context, Meta, time.Duration) error { return nil }
func (nopRecorder) SaveSelection(context.Context, uuid.UUID, uuid.UUID, []uuid.UUID) error {
	return nil
}
func (nopRecorder) Load(context.Context, uuid.UUID) (*Meta, map[uuid.UUID][]uuid.UUID, error) {
	return nil, nil, ErrRunNotFound
}
func (nopRecorder) FindActive(context.Context, uuid.UUID, uuid.UUID) (uuid.UUID, bool, error) {
	return uuid.Nil, false, nil
}
func (nopRecorder) Clear(context.Context, Meta) error { return nil }

// Deps are the collaborators shared by every session.
type Deps struct {
	Papers   PaperSource
	Store    AttemptStore
	Clock    Clock
	Recorder Recorder
	Log      zerolog.Logger
	// Shuffle permutes question order for tests with shuffle enabled.
	Shuffle func(n int, swap func(i, j int))
	// SubmitTimeout bounds one InsertAttempt call; zero means no extra deadline.
	SubmitTimeout time.Duration
	// SnapshotTTL is added to the test duration when mirroring a run.
	SnapshotTTL time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = realClock{}
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Shuffle == nil {
		d.Shuffle = rand.Shuffle
	}
	return d
}
