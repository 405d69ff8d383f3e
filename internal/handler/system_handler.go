package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/response"
)

const (
	metricsInterval = 7 * time.Second
	metricsTimeout  = 2 * time.Second
)

// RunCounter reports how many test runs are held in memory.
type RunCounter interface {
	Len() int
}

// PoolStater is satisfied by *pgxpool.Pool.
type PoolStater interface {
	Stat() *pgxpool.Stat
}

// SystemHandler reports process health to admins: Go runtime figures, the
// run registry, connection pools and the answer rows backlog.
type SystemHandler struct {
	rdb      *redis.Client
	pool     PoolStater
	runs     RunCounter
	started  time.Time
	interval time.Duration
	log      zerolog.Logger
}

// NewSystemHandler builds the handler. pool may be nil when Postgres stats
// are not wanted.
func NewSystemHandler(rdb *redis.Client, pool PoolStater, runs RunCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:      rdb,
		pool:     pool,
		runs:     runs,
		started:  time.Now(),
		interval: metricsInterval,
		log:      log.With().Str("component", "system_handler").Logger(),
	}
}

type runtimeStats struct {
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	StackInuse uint64 `json:"stack_inuse"`
	NumGC      uint32 `json:"num_gc"`
	LastPause  uint64 `json:"last_gc_pause_ns"`
}

type postgresStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	EmptyAcquires int64 `json:"empty_acquires"`
}

type redisStats struct {
	Up              bool   `json:"up"`
	TotalConns      uint32 `json:"total_conns"`
	IdleConns       uint32 `json:"idle_conns"`
	Timeouts        uint32 `json:"timeouts"`
	AnswerRowsQueue int64  `json:"answer_rows_queue"`
}

type systemMetrics struct {
	CollectedAt   time.Time      `json:"collected_at"`
	StartedAt     time.Time      `json:"started_at"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	RunsInMemory  int            `json:"runs_in_memory"`
	Runtime       runtimeStats   `json:"runtime"`
	Postgres      *postgresStats `json:"postgres,omitempty"`
	Redis         redisStats     `json:"redis"`
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics
// Sends a "metrics" event on connect and every interval after.
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	ctx := c.Request.Context()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	h.log.Debug().Msg("Metrics stream opened")
	defer h.log.Debug().Msg("Metrics stream closed")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		c.SSEvent("metrics", h.collect(ctx))
		c.Writer.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Snapshot godoc
// GET /api/v1/admin/system/snapshot
func (h *SystemHandler) Snapshot(c *gin.Context) {
	response.Success(c, http.StatusOK, h.collect(c.Request.Context()))
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	now := time.Now()
	m := systemMetrics{
		CollectedAt:   now.UTC(),
		StartedAt:     h.started.UTC(),
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
		RunsInMemory:  h.runs.Len(),
		Runtime:       readRuntime(),
	}

	if h.pool != nil {
		st := h.pool.Stat()
		m.Postgres = &postgresStats{
			TotalConns:    st.TotalConns(),
			IdleConns:     st.IdleConns(),
			AcquiredConns: st.AcquiredConns(),
			MaxConns:      st.MaxConns(),
			EmptyAcquires: st.EmptyAcquireCount(),
		}
	}

	ps := h.rdb.PoolStats()
	m.Redis = redisStats{TotalConns: ps.TotalConns, IdleConns: ps.IdleConns, Timeouts: ps.Timeouts}

	qctx, cancel := context.WithTimeout(ctx, metricsTimeout)
	defer cancel()
	n, err := h.rdb.LLen(qctx, config.WorkerKey.PersistAnswerRowsQueue).Result()
	if err != nil {
		h.log.Warn().Err(err).Msg("Queue length unavailable")
		return m
	}
	m.Redis.Up = true
	m.Redis.AnswerRowsQueue = n
	return m
}

func readRuntime() runtimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return runtimeStats{
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		StackInuse: ms.StackInuse,
		NumGC:      ms.NumGC,
		LastPause:  ms.PauseNs[(ms.NumGC+255)%256],
	}
}
