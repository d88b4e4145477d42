package db

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestClassifyDriverErrors(t *testing.T) {
	tests := []struct {
		name            string
		classify        func(string, error) error
		err             error
		wantUnavailable bool
	}{
		{name: "postgres constraint", classify: classifyPostgres, err: &pgconn.PgError{Code: "23505"}, wantUnavailable: false},
		{name: "postgres canceled", classify: classifyPostgres, err: context.Canceled, wantUnavailable: false},
		{name: "postgres connection", classify: classifyPostgres, err: io.ErrUnexpectedEOF, wantUnavailable: true},
		{name: "mongo timeout", classify: classifyMongo, err: context.DeadlineExceeded, wantUnavailable: true},
		{name: "mongo disconnected", classify: classifyMongo, err: mongo.ErrClientDisconnected, wantUnavailable: true},
		{name: "mongo rejected", classify: classifyMongo, err: errors.New("document too large"), wantUnavailable: false},
		{name: "badger closed", classify: classifyBadger, err: badger.ErrDBClosed, wantUnavailable: true},
		{name: "badger conflict", classify: classifyBadger, err: badger.ErrConflict, wantUnavailable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.classify("insert whisper", tt.err)

			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantUnavailable, errors.Is(err, ErrStoreUnavailable))
			assert.Contains(t, err.Error(), "insert whisper")
		})
	}

	assert.NoError(t, classifyPostgres("ping", nil))
	assert.NoError(t, classifyMongo("ping", nil))
	assert.NoError(t, classifyBadger("ping", nil))
}
