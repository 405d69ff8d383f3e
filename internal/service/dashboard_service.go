package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	dashboardDays     = 14
	dashboardTopTests = 5
	dashboardCacheTTL = 30 * time.Second
)

// DashboardStore is the data access DashboardService needs.
type DashboardStore interface {
	GetSummaryCounts(ctx context.Context) (repository.DashboardCounts, error)
	GetDailyAttempts(ctx context.Context, days int) ([]repository.DashboardDay, error)
	GetTopTests(ctx context.Context, limit int) ([]repository.DashboardTestActivity, error)
}

// DashboardData consolidates all metrics for the admin dashboard.
type DashboardData struct {
	Counts      repository.DashboardCounts         `json:"counts"`
	Daily       []repository.DashboardDay          `json:"daily_attempts"`
	TopTests    []repository.DashboardTestActivity `json:"top_tests"`
	GeneratedAt time.Time                          `json:"generated_at"`
}

// DashboardService handles admin dashboard business logic.
type DashboardService struct {
	repo DashboardStore
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(repo DashboardStore, rdb *redis.Client, log zerolog.Logger) *DashboardService {
	return &DashboardService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "dashboard_service").Logger(),
	}
}

// GetDashboardData returns the dashboard, served from a short-lived cache
// when one is present.
func (s *DashboardService) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	key := config.CacheKey.DashboardKey()
	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var cached DashboardData
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	}

	data := &DashboardData{GeneratedAt: time.Now().UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data.Counts, err = s.repo.GetSummaryCounts(gctx)
		return err
	})
	g.Go(func() (err error) {
		data.Daily, err = s.repo.GetDailyAttempts(gctx, dashboardDays)
		return err
	})
	g.Go(func() (err error) {
		data.TopTests, err = s.repo.GetTopTests(gctx, dashboardTopTests)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(data); err == nil {
		if err := s.rdb.Set(ctx, key, raw, dashboardCacheTTL).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache dashboard")
		}
	}
	return data, nil
}
