package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"presence-backend/internal/models"
)

// BadgerStore keeps whispers in an embedded badger database. Each message is
// indexed once per participant under "msg:{hex user}:{padded ms}:{id}" so a
// reverse prefix scan yields a user's messages newest first.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadger(path string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("unable to open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func BadgerDialer(path string) Dialer {
	return func(ctx context.Context) (MessageStore, error) {
		return OpenBadger(path)
	}
}

func userPrefix(userID string) string {
	return fmt.Sprintf("msg:%x:", userID)
}

func messageKey(userID string, msg models.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", userPrefix(userID), msg.Timestamp, msg.ID))
}

func (s *BadgerStore) Insert(_ context.Context, msg models.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode whisper: %w", err)
	}
	participants := lo.Uniq([]string{msg.SenderID, msg.ReceiverID})
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, userID := range participants {
			if err := txn.Set(messageKey(userID, msg), value); err != nil {
				return err
			}
		}
		return nil
	})
	return classifyBadger("insert whisper", err)
}

func (s *BadgerStore) QueryByUser(_ context.Context, userID string, limit int) ([]models.Message, error) {
	messages := make([]models.Message, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userPrefix(userID))
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// '~' sorts after every digit, so the seek lands on the newest key.
		for it.Seek(append(prefix, '~')); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var msg models.Message
				if err := json.Unmarshal(value, &msg); err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classifyBadger("query whispers", err)
	}
	return messages, nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return unavailable("ping", badger.ErrDBClosed)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func classifyBadger(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
