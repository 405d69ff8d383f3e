package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MonitorRepository provides the persisted half of live test monitoring.
// In-flight runs come from the run manager; this fills in learner names and
// the attempts already stored for the test.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetUserNames maps each known id to its profile user name.
func (r *MonitorRepository) GetUserNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_name FROM profiles WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// CountSubmittedSince counts stored attempts of testID submitted at or after since.
func (r *MonitorRepository) CountSubmittedSince(ctx context.Context, testID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE test_id = $1 AND submitted_at >= $2`,
		testID, since,
	).Scan(&n)
	return n, err
}
