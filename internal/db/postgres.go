package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"presence-backend/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS whispers (
	id          TEXT PRIMARY KEY,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	ciphertext  TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT 'text',
	room_id     TEXT,
	sent_at_ms  BIGINT NOT NULL,
	read        BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS whispers_sender_idx ON whispers (sender_id, sent_at_ms DESC);
CREATE INDEX IF NOT EXISTS whispers_receiver_idx ON whispers (receiver_id, sent_at_ms DESC);
`

// PostgresStore keeps whispers in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres initializes the PostgreSQL connection pool
func OpenPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to prepare schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// PostgresDialer returns a Dialer for the gate's connector.
func PostgresDialer(connString string) Dialer {
	return func(ctx context.Context) (MessageStore, error) {
		return OpenPostgres(ctx, connString)
	}
}

func (s *PostgresStore) Insert(ctx context.Context, msg models.Message) error {
	query := `INSERT INTO whispers (id, sender_id, receiver_id, ciphertext, kind, room_id, sent_at_ms, read)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Ciphertext, msg.Kind, msg.RoomID, msg.Timestamp, msg.Read)
	return classifyPostgres("insert whisper", err)
}

func (s *PostgresStore) QueryByUser(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	query := `SELECT id, sender_id, receiver_id, ciphertext, kind, COALESCE(room_id, ''), sent_at_ms, read
		FROM whispers WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY sent_at_ms DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, classifyPostgres("query whispers", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Ciphertext,
			&msg.Kind, &msg.RoomID, &msg.Timestamp, &msg.Read); err != nil {
			return nil, classifyPostgres("scan whisper", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("iterate whispers", err)
	}
	return messages, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return classifyPostgres("ping", s.pool.Ping(ctx))
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// classifyPostgres keeps server-side rejections as plain errors and treats
// everything else as a lost connection.
func classifyPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}
