package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DashboardRepository handles admin dashboard data access.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// DashboardCounts are the stat cards at the top of the dashboard.
type DashboardCounts struct {
	Learners  int `json:"learners"`
	Subjects  int `json:"subjects"`
	Tests     int `json:"tests"`
	Questions int `json:"questions"`
	Attempts  int `json:"attempts"`
}

// GetSummaryCounts retrieves the high-level metrics for the dashboard.
func (r *DashboardRepository) GetSummaryCounts(ctx context.Context) (DashboardCounts, error) {
	var c DashboardCounts
	err := r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM profiles WHERE role = 'student'),
			(SELECT COUNT(*) FROM subjects),
			(SELECT COUNT(*) FROM tests),
			(SELECT COUNT(*) FROM questions),
			(SELECT COUNT(*) FROM attempts)`,
	).Scan(&c.Learners, &c.Subjects, &c.Tests, &c.Questions, &c.Attempts)
	return c, err
}

// DashboardDay is the attempt volume of one calendar day (UTC).
type DashboardDay struct {
	Day          time.Time `json:"day"`
	Attempts     int       `json:"attempts"`
	AverageScore float64   `json:"average_score"`
}

// GetDailyAttempts returns one row per day for the last days days, oldest
// first. Days without attempts are included with zero counts.
func (r *DashboardRepository) GetDailyAttempts(ctx context.Context, days int) ([]DashboardDay, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT d.day, COUNT(a.id), COALESCE(AVG(a.score), 0)
		 FROM generate_series(
		        (NOW() AT TIME ZONE 'UTC')::date - ($1::int - 1),
		        (NOW() AT TIME ZONE 'UTC')::date,
		        INTERVAL '1 day') AS d(day)
		 LEFT JOIN attempts a ON (a.submitted_at AT TIME ZONE 'UTC')::date = d.day::date
		 GROUP BY d.day
		 ORDER BY d.day`,
		days,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []DashboardDay{}
	for rows.Next() {
		var d DashboardDay
		if err := rows.Scan(&d.Day, &d.Attempts, &d.AverageScore); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// DashboardTestActivity summarises the attempts of one test.
type DashboardTestActivity struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	SubjectName  string    `json:"subject_name"`
	Attempts     int       `json:"attempts"`
	AverageScore float64   `json:"average_score"`
}

// GetTopTests retrieves the N most attempted tests.
func (r *DashboardRepository) GetTopTests(ctx context.Context, limit int) ([]DashboardTestActivity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.title, s.name, COUNT(a.id), COALESCE(AVG(a.score), 0)
		 FROM tests t
		 JOIN subjects s ON s.id = t.subject_id
		 JOIN attempts a ON a.test_id = t.id
		 GROUP BY t.id, t.title, s.name
		 ORDER BY COUNT(a.id) DESC, t.title
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []DashboardTestActivity{}
	for rows.Next() {
		var t DashboardTestActivity
		if err := rows.Scan(&t.ID, &t.Title, &t.SubjectName, &t.Attempts, &t.AverageScore); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
