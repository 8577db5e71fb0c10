package chat

import (
	"testing"
	"time"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FrameTimeoutReleasesReadLoop(t *testing.T) {
	env := newTestEnv(t, true)
	env.store.blockCreate = true
	c := newClient(env.hub, env.service, nil, env.identity(1), config.WebSocketConfig{
		SendBuffer:   16,
		FrameTimeout: 50 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.handleFrame([]byte(`{"type":"sendMessage","requestId":"slow","chatType":"private","chatRoom":2,"content":"hi"}`))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("frame did not time out")
	}

	evs := drain(t, c)
	require.Equal(t, []string{EventError}, types(evs))
	assert.Equal(t, apperr.CodeInternal, decode[errorPayload](t, evs[0]).Code)
	assert.Zero(t, env.store.count())
}

func TestClient_FrameWithoutTimeout(t *testing.T) {
	env := newTestEnv(t, true)
	c := newClient(env.hub, env.service, nil, env.identity(1), config.WebSocketConfig{SendBuffer: 16})

	c.handleFrame([]byte(`{"type":"ping","requestId":"p"}`))
	assert.Equal(t, []string{EventPong}, types(drain(t, c)))
}
