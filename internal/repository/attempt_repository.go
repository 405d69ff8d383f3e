package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/analytics"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// AttemptRepository handles submitted attempts and their answer rows.
// Attempts are insert-only.
type AttemptRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool, log zerolog.Logger) *AttemptRepository {
	return &AttemptRepository{
		pool: pool,
		log:  log.With().Str("component", "attempt_repository").Logger(),
	}
}

// Insert writes a submitted attempt. Inserting an id that already exists is a
// no-op, so a retried submission never creates a second record. inserted is
// false in that case.
func (r *AttemptRepository) Insert(ctx context.Context, a *model.Attempt) (inserted bool, err error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, user_id, test_id, started_at, submitted_at, score, total_marks, summary, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.UserID, a.TestID, a.StartedAt, a.SubmittedAt, a.Score, a.TotalMarks, a.Summary, a.Result,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const attemptSelect = `
	SELECT a.id, a.user_id, a.test_id, a.started_at, a.submitted_at, a.score, a.total_marks,
	       a.summary, a.result, a.created_at,
	       t.title, t.subject_id, s.name, t.duration_minutes
	FROM attempts a
	JOIN tests t ON t.id = a.test_id
	JOIN subjects s ON s.id = t.subject_id`

// scanAttempt reads one row and returns the undecoded result column.
func scanAttempt(row pgx.Row, a *model.Attempt) ([]byte, error) {
	var raw []byte
	var subjectID uuid.UUID
	err := row.Scan(&a.ID, &a.UserID, &a.TestID, &a.StartedAt, &a.SubmittedAt, &a.Score, &a.TotalMarks,
		&a.Summary, &raw, &a.CreatedAt,
		&a.TestTitle, &subjectID, &a.SubjectName, &a.DurationMinutes)
	if err != nil {
		return nil, err
	}
	a.SubjectID = &subjectID
	return raw, nil
}

func decodeResult(a *model.Attempt, raw []byte) error {
	p, err := model.DecodeResultPayload(raw)
	if err != nil {
		return fmt.Errorf("attempt %s: %w", a.ID, err)
	}
	a.Result = p
	return nil
}

// decodeListed is decodeResult for listings: an unreadable payload leaves
// Result nil so one bad row does not hide the others.
func (r *AttemptRepository) decodeListed(a *model.Attempt, raw []byte) {
	if err := decodeResult(a, raw); err != nil {
		r.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Listing attempt without result")
		a.Result = nil
	}
}

// GetByID retrieves one attempt with its test and subject names. An
// unreadable result payload is an error here.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	raw, err := scanAttempt(r.pool.QueryRow(ctx, attemptSelect+` WHERE a.id = $1`, id), a)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("attempt %s", id))
	}
	if err := decodeResult(a, raw); err != nil {
		return nil, err
	}
	return a, nil
}

// ListByUser returns a learner's attempts, newest first.
func (r *AttemptRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Attempt, error) {
	return r.list(ctx, attemptSelect+` WHERE a.user_id = $1 ORDER BY a.submitted_at DESC`, userID)
}

// ListFiltered returns one page of attempts matching f and the total match count.
func (r *AttemptRepository) ListFiltered(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, int, error) {
	where, args := buildAttemptFilter(f)

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts a JOIN tests t ON t.id = a.test_id JOIN subjects s ON s.id = t.subject_id`+where,
		args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`%s%s ORDER BY a.submitted_at DESC LIMIT $%d OFFSET $%d`,
		attemptSelect, where, len(args)-1, len(args))

	attempts, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

// ListAll returns every attempt matching f, ignoring pagination. Used for
// exports and aggregate stats.
func (r *AttemptRepository) ListAll(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, error) {
	where, args := buildAttemptFilter(f)
	return r.list(ctx, attemptSelect+where+` ORDER BY a.submitted_at DESC`, args...)
}

func (r *AttemptRepository) list(ctx context.Context, query string, args ...any) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		var a model.Attempt
		raw, err := scanAttempt(rows, &a)
		if err != nil {
			return nil, err
		}
		r.decodeListed(&a, raw)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func buildAttemptFilter(f model.AttemptFilter) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if s := strings.TrimSpace(f.Search); s != "" {
		p := arg("%" + s + "%")
		conds = append(conds, fmt.Sprintf("(t.title ILIKE %s OR a.user_id::text ILIKE %s)", p, p))
	}
	if f.SubjectID != nil {
		conds = append(conds, "t.subject_id = "+arg(*f.SubjectID))
	}
	if f.From != nil {
		conds = append(conds, "a.submitted_at >= "+arg(*f.From))
	}
	if f.To != nil {
		// Inclusive of the whole "to" day.
		conds = append(conds, fmt.Sprintf("a.submitted_at < %s::timestamptz + INTERVAL '1 day'", arg(*f.To)))
	}
	if lo, hi, ok := analytics.BandRange(analytics.ScoreBand(f.Band)); ok {
		conds = append(conds, "a.score >= "+arg(lo))
		if hi >= 0 {
			conds = append(conds, "a.score < "+arg(hi))
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ----------------------------------------------------------------
// Answer rows
// ----------------------------------------------------------------

// BulkInsertAnswerRows writes rows with a single UNNEST statement. Rows that
// already exist are skipped.
func (r *AttemptRepository) BulkInsertAnswerRows(ctx context.Context, rows []model.AnswerRow) error {
	if len(rows) == 0 {
		return nil
	}

	n := len(rows)
	attemptIDs := make([]uuid.UUID, n)
	questionIDs := make([]uuid.UUID, n)
	selected := make([]string, n)
	correct := make([]bool, n)
	marks := make([]int, n)
	for i, row := range rows {
		attemptIDs[i] = row.AttemptID
		questionIDs[i] = row.QuestionID
		selected[i] = joinUUIDs(row.SelectedOptionIDs)
		correct[i] = row.Correct
		marks[i] = row.MarksAwarded
	}

	// Option id lists differ in length, so they travel as comma separated text
	// and are split back into uuid[] per row.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attempt_answers (attempt_id, question_id, selected_option_ids, correct, marks_awarded)
		SELECT u.attempt_id, u.question_id,
		       COALESCE(string_to_array(NULLIF(u.selected, ''), ',')::uuid[], '{}'),
		       u.correct, u.marks
		FROM UNNEST(
			$1::uuid[],
			$2::uuid[],
			$3::text[],
			$4::bool[],
			$5::int[]
		) AS u (attempt_id, question_id, selected, correct, marks)
		ON CONFLICT (attempt_id, question_id) DO NOTHING`,
		attemptIDs, questionIDs, selected, correct, marks)
	return err
}

// InsertAnswerRow writes a single row, the fallback when a bulk insert fails.
func (r *AttemptRepository) InsertAnswerRow(ctx context.Context, row model.AnswerRow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_option_ids, correct, marks_awarded)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (attempt_id, question_id) DO NOTHING`,
		row.AttemptID, row.QuestionID, row.SelectedOptionIDs, row.Correct, row.MarksAwarded)
	return err
}

// ListAnswerRows returns the normalised answers of an attempt.
func (r *AttemptRepository) ListAnswerRows(ctx context.Context, attemptID uuid.UUID) ([]model.AnswerRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, selected_option_ids, correct, marks_awarded
		 FROM attempt_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.AnswerRow{}
	for rows.Next() {
		var row model.AnswerRow
		if err := rows.Scan(&row.AttemptID, &row.QuestionID, &row.SelectedOptionIDs, &row.Correct, &row.MarksAwarded); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func joinUUIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
