package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectHandler is a ClientHandler that records received messages.
type collectHandler struct {
	mu       sync.Mutex
	messages [][]byte
	states   []ConnectionState
	errs     []error
}

func (h *collectHandler) OnMessage(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(msg))
	copy(cp, msg)
	h.messages = append(h.messages, cp)
}

func (h *collectHandler) OnStateChange(oldState, newState ConnectionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, newState)
}

func (h *collectHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *collectHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func startTestServer(t *testing.T, config ServerConfig) *Server {
	t.Helper()
	config.Address = "127.0.0.1:0"

	srv := NewServer(config)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestServerClientRoundTrip(t *testing.T) {
	received := make(chan []byte, 1)

	srv := startTestServer(t, ServerConfig{
		OnMessage: func(conn *ServerConn, msg []byte) {
			received <- msg
			// Echo back.
			_ = conn.Send(msg)
		},
	})

	handler := &collectHandler{}
	client := NewClientConn(ClientConfig{}, handler)
	require.NoError(t, client.Connect(context.Background(), srv.Addr().String()))
	defer client.Close()

	payload := []byte(`{"id":"m1","type":"HEARTBEAT","timestamp":"2026-01-02T15:04:05Z"}`)
	require.NoError(t, client.Send(payload))

	select {
	case msg := <-received:
		assert.Equal(t, payload, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}

	require.Eventually(t, func() bool { return handler.messageCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestServerConnectDisconnectCallbacks(t *testing.T) {
	connected := make(chan *ServerConn, 1)
	disconnected := make(chan *ServerConn, 1)

	srv := startTestServer(t, ServerConfig{
		OnConnect:    func(conn *ServerConn) { connected <- conn },
		OnDisconnect: func(conn *ServerConn) { disconnected <- conn },
	})

	handler := &collectHandler{}
	client := NewClientConn(ClientConfig{}, handler)
	require.NoError(t, client.Connect(context.Background(), srv.Addr().String()))

	var sconn *ServerConn
	select {
	case sconn = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect not called")
	}
	assert.NotEmpty(t, sconn.ConnID())
	assert.Equal(t, 1, srv.ConnectionCount())

	client.Close()

	select {
	case got := <-disconnected:
		assert.Equal(t, sconn.ConnID(), got.ConnID())
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestServerCloseIsIdempotent(t *testing.T) {
	connected := make(chan *ServerConn, 1)
	srv := startTestServer(t, ServerConfig{
		OnConnect: func(conn *ServerConn) { connected <- conn },
	})

	client := NewClientConn(ClientConfig{}, &collectHandler{})
	require.NoError(t, client.Connect(context.Background(), srv.Addr().String()))
	defer client.Close()

	sconn := <-connected
	require.NoError(t, sconn.Close())
	// Second close is a no-op, not a double-close of the socket.
	assert.NoError(t, sconn.Close())
}

func TestServerStopClosesConnections(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})

	handler := &collectHandler{}
	client := NewClientConn(ClientConfig{}, handler)
	require.NoError(t, client.Connect(context.Background(), srv.Addr().String()))
	defer client.Close()

	require.NoError(t, srv.Stop())

	// The client observes the close as a read error / disconnect.
	require.Eventually(t, func() bool {
		return client.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientSendWhenDisconnected(t *testing.T) {
	client := NewClientConn(ClientConfig{}, &collectHandler{})
	err := client.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientDoubleConnect(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})

	client := NewClientConn(ClientConfig{}, &collectHandler{})
	require.NoError(t, client.Connect(context.Background(), srv.Addr().String()))
	defer client.Close()

	err := client.Connect(context.Background(), srv.Addr().String())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestServerPushToClient(t *testing.T) {
	connected := make(chan *ServerConn, 1)
	srv := startTestServer(t, ServerConfig{
		OnConnect: func(conn *ServerConn) { connected <- conn },
	})

	handler := &collectHandler{}
	client := NewClientConn(ClientConfig{}, handler)
	require.NoError(t, client.Connect(context.Background(), srv.Addr().String()))
	defer client.Close()

	sconn := <-connected
	for i := 0; i < 10; i++ {
		require.NoError(t, sconn.Send([]byte(`{"id":"m","type":"COMMAND"}`)))
	}

	require.Eventually(t, func() bool { return handler.messageCount() == 10 },
		2*time.Second, 10*time.Millisecond)
}
