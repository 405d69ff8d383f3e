package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// ChatRepository handles channels, messages and reactions.
type ChatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository creates a new ChatRepository.
func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// ─── Channels ────────────────────────────────────────────────────────────────

func (r *ChatRepository) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, created_at, updated_at FROM channels ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []model.Channel{}
	for rows.Next() {
		var ch model.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (r *ChatRepository) GetChannel(ctx context.Context, id uuid.UUID) (*model.Channel, error) {
	ch := &model.Channel{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at, updated_at FROM channels WHERE id = $1`, id,
	).Scan(&ch.ID, &ch.Name, &ch.Description, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("channel %s", id))
	}
	return ch, nil
}

func (r *ChatRepository) CreateChannel(ctx context.Context, ch *model.Channel) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO channels (name, description) VALUES ($1, $2) RETURNING id, created_at, updated_at`,
		ch.Name, ch.Description,
	).Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
}

func (r *ChatRepository) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ─── Messages ────────────────────────────────────────────────────────────────

const messageSelect = `
	SELECT m.id, m.channel_id, m.user_id, p.user_name, m.content, m.parent_message_id, m.created_at, m.updated_at
	FROM messages m
	JOIN profiles p ON p.id = m.user_id`

func scanMessage(row pgx.Row, m *model.Message) error {
	return row.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.UserName, &m.Content, &m.ParentMessageID, &m.CreatedAt, &m.UpdatedAt)
}

// ListMessages returns the latest limit messages of a channel in
// chronological order, each with its reaction tallies.
func (r *ChatRepository) ListMessages(ctx context.Context, channelID uuid.UUID, limit int) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM (`+messageSelect+` WHERE m.channel_id = $1 ORDER BY m.created_at DESC LIMIT $2) recent
		 ORDER BY created_at ASC`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.Message{}
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		m.Reactions = []model.ReactionTally{}
		index[m.ID] = len(messages)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}

	ids := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	tallies, err := r.pool.Query(ctx,
		`SELECT message_id, emoji, COUNT(*)
		 FROM reactions
		 WHERE message_id = ANY($1::uuid[])
		 GROUP BY message_id, emoji
		 ORDER BY message_id, MIN(created_at)`, ids)
	if err != nil {
		return nil, err
	}
	defer tallies.Close()

	for tallies.Next() {
		var id uuid.UUID
		var t model.ReactionTally
		if err := tallies.Scan(&id, &t.Emoji, &t.Count); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			messages[i].Reactions = append(messages[i].Reactions, t)
		}
	}
	return messages, tallies.Err()
}

func (r *ChatRepository) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	m := &model.Message{Reactions: []model.ReactionTally{}}
	if err := scanMessage(r.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id), m); err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("message %s", id))
	}
	return m, nil
}

func (r *ChatRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	err := r.pool.QueryRow(ctx,
		`WITH inserted AS (
			INSERT INTO messages (channel_id, user_id, content, parent_message_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id, user_id, created_at, updated_at
		)
		SELECT i.id, p.user_name, i.created_at, i.updated_at
		FROM inserted i JOIN profiles p ON p.id = i.user_id`,
		m.ChannelID, m.UserID, m.Content, m.ParentMessageID,
	).Scan(&m.ID, &m.UserName, &m.CreatedAt, &m.UpdatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("channel %s: %w", m.ChannelID, model.ErrNotFound)
	}
	if m.Reactions == nil {
		m.Reactions = []model.ReactionTally{}
	}
	return err
}

func (r *ChatRepository) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ─── Reactions ───────────────────────────────────────────────────────────────

// ToggleReaction removes the user's emoji on a message if present, otherwise
// adds it. added reports which happened.
func (r *ChatRepository) ToggleReaction(ctx context.Context, rc *model.Reaction) (added bool, err error) {
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
			rc.MessageID, rc.UserID, rc.Emoji)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			added = false
			return nil
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO reactions (message_id, user_id, emoji)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (message_id, user_id, emoji) DO NOTHING
			 RETURNING id, created_at`,
			rc.MessageID, rc.UserID, rc.Emoji,
		).Scan(&rc.ID, &rc.CreatedAt)
		switch {
		case isForeignKeyViolation(err):
			return fmt.Errorf("message %s: %w", rc.MessageID, model.ErrNotFound)
		case errors.Is(err, pgx.ErrNoRows):
			// A concurrent toggle inserted the same reaction first.
			added = true
			return nil
		case err != nil:
			return err
		}
		added = true
		return nil
	})
	return added, err
}
