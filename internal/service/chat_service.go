package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// Chat errors.
var (
	ErrParentOutsideChannel = errors.New("reply parent belongs to another channel")
	ErrNotMessageOwner      = errors.New("message belongs to another user")
)

// ChatStore is the chat persistence ChatService needs.
type ChatStore interface {
	ListChannels(ctx context.Context) ([]model.Channel, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*model.Channel, error)
	CreateChannel(ctx context.Context, ch *model.Channel) error
	DeleteChannel(ctx context.Context, id uuid.UUID) error
	ListMessages(ctx context.Context, channelID uuid.UUID, limit int) ([]model.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error)
	CreateMessage(ctx context.Context, m *model.Message) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	ToggleReaction(ctx context.Context, rc *model.Reaction) (bool, error)
}

// ChatService handles channels, messages and reactions, and fans every write
// out to subscribers through Redis Pub/Sub.
type ChatService struct {
	store ChatStore
	rdb   *redis.Client
	limit int
	log   zerolog.Logger
}

// NewChatService creates a new ChatService. historyLimit caps ListMessages.
func NewChatService(store ChatStore, rdb *redis.Client, historyLimit int, log zerolog.Logger) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &ChatService{
		store: store,
		rdb:   rdb,
		limit: historyLimit,
		log:   log.With().Str("component", "chat_service").Logger(),
	}
}

func (s *ChatService) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return s.store.ListChannels(ctx)
}

func (s *ChatService) GetChannel(ctx context.Context, id uuid.UUID) (*model.Channel, error) {
	return s.store.GetChannel(ctx, id)
}

func (s *ChatService) CreateChannel(ctx context.Context, req model.CreateChannelRequest) (*model.Channel, error) {
	ch := &model.Channel{Name: req.Name, Description: req.Description}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *ChatService) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteChannel(ctx, id)
}

// ListMessages returns the most recent messages of a channel, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, channelID uuid.UUID) ([]model.Message, error) {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, channelID, s.limit)
}

// PostMessage stores a message or reply and publishes it.
func (s *ChatService) PostMessage(ctx context.Context, userID, channelID uuid.UUID, req model.PostMessageRequest) (*model.Message, error) {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	if req.ParentMessageID != nil {
		parent, err := s.store.GetMessage(ctx, *req.ParentMessageID)
		if err != nil {
			return nil, err
		}
		if parent.ChannelID != channelID {
			return nil, ErrParentOutsideChannel
		}
	}

	m := &model.Message{
		ChannelID:       channelID,
		UserID:          userID,
		Content:         req.Content,
		ParentMessageID: req.ParentMessageID,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}

	s.publish(ctx, model.ChatEvent{
		Type:      model.ChatEventMessageCreated,
		ChannelID: channelID,
		MessageID: m.ID,
		Message:   m,
	})
	return m, nil
}

// DeleteMessage removes a message. Only its author or an admin may delete it.
func (s *ChatService) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID, admin bool) error {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.UserID != userID && !admin {
		return ErrNotMessageOwner
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	s.publish(ctx, model.ChatEvent{
		Type:      model.ChatEventMessageDeleted,
		ChannelID: m.ChannelID,
		MessageID: messageID,
	})
	return nil
}

// React toggles the user's emoji on a message. added is false when the
// reaction was removed.
func (s *ChatService) React(ctx context.Context, userID, messageID uuid.UUID, emoji string) (bool, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}

	rc := &model.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	added, err := s.store.ToggleReaction(ctx, rc)
	if err != nil {
		return false, err
	}

	s.publish(ctx, model.ChatEvent{
		Type:      model.ChatEventReaction,
		ChannelID: m.ChannelID,
		MessageID: messageID,
		Reaction:  rc,
		Added:     added,
	})
	return added, nil
}

func (s *ChatService) publish(ctx context.Context, ev model.ChatEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal chat event")
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ChatChannel(ev.ChannelID), raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("channel_id", ev.ChannelID.String()).Msg("Publish chat event failed")
	}
}

// Subscribe streams the events of one channel until ctx is done or cancel is
// called. The returned channel is closed afterwards.
func (s *ChatService) Subscribe(ctx context.Context, channelID uuid.UUID) (<-chan model.ChatEvent, func(), error) {
	ps := s.rdb.Subscribe(ctx, config.CacheKey.ChatChannel(channelID))
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe chat channel: %w", err)
	}

	out := make(chan model.ChatEvent, 16)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.ChatEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.log.Warn().Err(err).Msg("Dropping malformed chat event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() { _ = ps.Close() }, nil
}
