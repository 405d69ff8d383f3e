package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/mocktest-backend/internal/testrun"
)

// LiveRunSource lists the runs of a test held in memory.
type LiveRunSource interface {
	Live(testID uuid.UUID) []testrun.LiveRun
}

// MonitorStore is the data access MonitorService needs.
type MonitorStore interface {
	GetUserNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	CountSubmittedSince(ctx context.Context, testID uuid.UUID, since time.Time) (int, error)
}

// RunProgress is one learner's row on the monitor.
type RunProgress struct {
	UserID           uuid.UUID     `json:"user_id"`
	Name             string        `json:"name"`
	RunID            uuid.UUID     `json:"run_id"`
	State            testrun.State `json:"state"`
	Answered         int           `json:"answered"`
	Total            int           `json:"total"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Score            *float64      `json:"score,omitempty"`
}

// MonitorStats are the counters above the monitor table.
type MonitorStats struct {
	InProgress     int `json:"in_progress"`
	Submitted      int `json:"submitted"`
	Errored        int `json:"errored"`
	SubmittedToday int `json:"submitted_today"`
}

// TestProgress is one refresh of the live monitor.
type TestProgress struct {
	TestID uuid.UUID     `json:"test_id"`
	Stats  MonitorStats  `json:"stats"`
	Runs   []RunProgress `json:"runs"`
}

// MonitorService orchestrates live test monitoring.
type MonitorService struct {
	runs  LiveRunSource
	store MonitorStore
	now   func() time.Time
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(runs LiveRunSource, store MonitorStore) *MonitorService {
	return &MonitorService{runs: runs, store: store, now: time.Now}
}

// GetTestProgress merges the in-memory runs of testID with learner names and
// today's stored attempt count. Names are required; the count is best-effort.
func (s *MonitorService) GetTestProgress(ctx context.Context, testID uuid.UUID) (*TestProgress, error) {
	live := s.runs.Live(testID)
	ids := make([]uuid.UUID, 0, len(live))
	for _, r := range live {
		ids = append(ids, r.UserID)
	}

	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var (
		names    map[uuid.UUID]string
		today    int
		namesErr error
		todayErr error
		wg       sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		names, namesErr = s.store.GetUserNames(ctx, ids)
	}()
	go func() {
		defer wg.Done()
		today, todayErr = s.store.CountSubmittedSince(ctx, testID, midnight)
	}()
	wg.Wait()

	if namesErr != nil {
		return nil, namesErr
	}

	progress := &TestProgress{TestID: testID, Runs: make([]RunProgress, 0, len(live))}
	if todayErr == nil {
		progress.Stats.SubmittedToday = today
	}
	for _, r := range live {
		switch r.State {
		case testrun.StateSubmitted:
			progress.Stats.Submitted++
		case testrun.StateError:
			progress.Stats.Errored++
		default:
			progress.Stats.InProgress++
		}
		progress.Runs = append(progress.Runs, RunProgress{
			UserID:           r.UserID,
			Name:             names[r.UserID],
			RunID:            r.RunID,
			State:            r.State,
			Answered:         r.Answered,
			Total:            r.Total,
			RemainingSeconds: r.RemainingSeconds,
			Score:            r.Score,
		})
	}
	return progress, nil
}
