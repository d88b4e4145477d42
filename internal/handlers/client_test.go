package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendNeverBlocks(t *testing.T) {
	client := NewClient("c1", nil, 2, testLog)

	require.NoError(t, client.Send([]byte("one")))
	require.NoError(t, client.Send([]byte("two")))
	assert.ErrorIs(t, client.Send([]byte("three")), ErrSendBufferFull)

	assert.Equal(t, "one", string(<-client.send))
	assert.NoError(t, client.Send([]byte("three")))
}

func TestClient_SendAfterClose(t *testing.T) {
	client := NewClient("c1", nil, 2, testLog)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.ErrorIs(t, client.Send([]byte("late")), ErrConnectionClosed)
	assert.Equal(t, "c1", client.ID())
}
