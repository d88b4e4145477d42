package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"presence-backend/internal/db"
	"presence-backend/internal/models"
)

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) Submit(msg models.Message) bool {
	args := m.Called(msg)
	return args.Bool(0)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRelay(persister Persister) (*Relay, *Registry, map[string]*mockConn) {
	registry := NewRegistry(NewPresenceBroadcaster(testLog), testLog)
	conns := connect(registry, "alice-1", "bob-1", "bob-2", "dave-1")
	_, _ = registry.Join("alice-1", "r1", "alice", "Alice")
	_, _ = registry.Join("bob-1", "r1", "bob", "Bob")
	_, _ = registry.Join("bob-2", "r2", "bob", "Bob")
	_, _ = registry.Join("dave-1", "r1", "dave", "Dave")

	relay := NewRelay(registry, persister, testLog)
	relay.now = func() time.Time { return fixedNow }
	return relay, registry, conns
}

func deliveredTo(t *testing.T, conn *mockConn) []models.Message {
	t.Helper()
	var out []models.Message
	for _, env := range conn.events(t) {
		if env.Event != models.EventMessageDelivered {
			continue
		}
		var msg models.Message
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		out = append(out, msg)
	}
	return out
}

func TestRelay_DeliversToEveryReceiverConnection(t *testing.T) {
	persister := &mockPersister{}
	persister.On("Submit", mock.AnythingOfType("models.Message")).Return(true)
	relay, _, conns := newTestRelay(persister)

	msg, err := relay.Relay("alice-1", models.SendMessageCommand{ReceiverID: "bob", Ciphertext: "c1ph3r"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.Equal(t, models.DefaultMessageKind, msg.Kind)
	assert.Equal(t, fixedNow.UnixMilli(), msg.Timestamp)
	assert.False(t, msg.Read)

	for _, id := range []string{"bob-1", "bob-2"} {
		got := deliveredTo(t, conns[id])
		require.Len(t, got, 1, "conn %s", id)
		assert.Equal(t, msg, got[0])
	}
	assert.Empty(t, deliveredTo(t, conns["dave-1"]), "same room is not enough to see a whisper")
	assert.Empty(t, deliveredTo(t, conns["alice-1"]), "the ack is the handler's job")
	persister.AssertCalled(t, "Submit", msg)
}

func TestRelay_ReceiverOffline(t *testing.T) {
	persister := &mockPersister{}
	persister.On("Submit", mock.Anything).Return(true)
	relay, _, conns := newTestRelay(persister)

	msg, err := relay.Relay("alice-1", models.SendMessageCommand{ReceiverID: "carol", Ciphertext: "x", Kind: "sticker", RoomID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, "sticker", msg.Kind)
	assert.Equal(t, "r1", msg.RoomID)
	for id, conn := range conns {
		assert.Empty(t, deliveredTo(t, conn), "conn %s", id)
	}
	persister.AssertNumberOfCalls(t, "Submit", 1)
}

func TestRelay_SelfWhisperSkipsOrigin(t *testing.T) {
	persister := &mockPersister{}
	persister.On("Submit", mock.Anything).Return(true)
	relay, registry, conns := newTestRelay(persister)
	extra := &mockConn{id: "alice-2"}
	registry.Connect(extra)
	_, err := registry.Join("alice-2", "r3", "alice", "Alice")
	require.NoError(t, err)

	_, err = relay.Relay("alice-1", models.SendMessageCommand{ReceiverID: "alice"})
	require.NoError(t, err)

	assert.Empty(t, deliveredTo(t, conns["alice-1"]))
	assert.Len(t, deliveredTo(t, extra), 1)
}

func TestRelay_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		cmd     models.SendMessageCommand
		wantErr error
	}{
		{name: "unknown connection", from: "ghost", cmd: models.SendMessageCommand{ReceiverID: "bob"}, wantErr: ErrUnknownConnection},
		{name: "empty receiver", from: "alice-1", cmd: models.SendMessageCommand{ReceiverID: " "}, wantErr: ErrInvalidMessage},
		{name: "sender never joined", from: "lurker", cmd: models.SendMessageCommand{ReceiverID: "bob"}, wantErr: ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persister := &mockPersister{}
			relay, registry, conns := newTestRelay(persister)
			registry.Connect(&mockConn{id: "lurker"})

			_, err := relay.Relay(tt.from, tt.cmd)

			assert.ErrorIs(t, err, tt.wantErr)
			persister.AssertNotCalled(t, "Submit", mock.Anything)
			assert.Empty(t, deliveredTo(t, conns["bob-1"]))
		})
	}
}

func TestRelay_PersistQueueFullStillDelivers(t *testing.T) {
	persister := &mockPersister{}
	persister.On("Submit", mock.Anything).Return(false)
	relay, _, conns := newTestRelay(persister)

	_, err := relay.Relay("alice-1", models.SendMessageCommand{ReceiverID: "bob"})
	require.NoError(t, err)
	assert.Len(t, deliveredTo(t, conns["bob-1"]), 1)
}

func TestRelay_StoreOfflineStillDelivers(t *testing.T) {
	gate := db.NewGate(testLog)
	messages := NewMessageService(gate, MessageServiceConfig{Workers: 1, QueueSize: 4, OpTimeout: time.Second}, testLog)
	relay, _, conns := newTestRelay(messages)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- messages.Run(ctx) }()

	msg, err := relay.Relay("alice-1", models.SendMessageCommand{ReceiverID: "bob", Ciphertext: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []models.Message{msg}, deliveredTo(t, conns["bob-1"]))

	cancel()
	require.NoError(t, <-done)
	assert.False(t, gate.Available())
}
