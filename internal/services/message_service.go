package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"presence-backend/internal/db"
	"presence-backend/internal/models"
)

// MessageService writes whispers through the gate on a bounded worker pool
// and serves history reads. Nothing here is on the delivery path.
type MessageService struct {
	gate      *db.Gate
	queue     chan models.Message
	workers   int
	opTimeout time.Duration
	log       *slog.Logger
}

type MessageServiceConfig struct {
	Workers   int
	QueueSize int
	OpTimeout time.Duration
}

func NewMessageService(gate *db.Gate, cfg MessageServiceConfig, log *slog.Logger) *MessageService {
	return &MessageService{
		gate:      gate,
		queue:     make(chan models.Message, cfg.QueueSize),
		workers:   cfg.Workers,
		opTimeout: cfg.OpTimeout,
		log:       log,
	}
}

// Submit queues msg for storage and never blocks. It returns false when the
// queue is full and the write is dropped.
func (s *MessageService) Submit(msg models.Message) bool {
	select {
	case s.queue <- msg:
		return true
	default:
		return false
	}
}

// Run drains the queue with the configured number of workers until ctx ends.
func (s *MessageService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-s.queue:
					s.persist(ctx, msg)
				}
			}
		})
	}
	return g.Wait()
}

func (s *MessageService) persist(ctx context.Context, msg models.Message) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	err := s.SaveMessage(ctx, msg)
	switch {
	case err == nil:
		s.log.Debug("whisper stored", "messageId", msg.ID)
	case errors.Is(err, db.ErrStoreOffline):
		s.log.Debug("whisper not stored, store offline", "messageId", msg.ID)
	default:
		s.log.Warn("whisper not stored", "messageId", msg.ID, "error", err)
	}
}

func (s *MessageService) SaveMessage(ctx context.Context, msg models.Message) error {
	return s.gate.WithStore(ctx, func(ctx context.Context, store db.MessageStore) error {
		return store.Insert(ctx, msg)
	})
}

// MessagesForUser returns the user's recent whispers, newest first. An
// offline store reads as empty.
func (s *MessageService) MessagesForUser(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.gate.WithStore(ctx, func(ctx context.Context, store db.MessageStore) error {
		var err error
		messages, err = store.QueryByUser(ctx, userID, limit)
		return err
	})
	if errors.Is(err, db.ErrStoreOffline) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return messages, nil
}
