package connector

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	network "github.com/lk2023060901/circuit-go/internal/network"
	"github.com/lk2023060901/circuit-go/internal/network/acceptor"
	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/internal/network/session"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

// echoServer 收到 mount 后回复对应的 refresh。
type echoServer struct{}

func (echoServer) OnConnected(session.Session) {}
func (echoServer) OnMessage(sess session.Session, env protocol.Envelope) {
	if env.Op != protocol.OpMount {
		return
	}
	var m protocol.Mount
	if env.Bind(&m) == nil {
		_ = sess.Send(protocol.OpRefresh, protocol.Refresh{ComponentID: m.ComponentID})
	}
}
func (echoServer) OnClosed(session.Session, error)               {}
func (echoServer) OnError(session.Session, network.Stage, error) {}

type clientHandler struct {
	mu        sync.Mutex
	connected []string
	refreshes chan string
	closed    chan error
}

func newClientHandler() *clientHandler {
	return &clientHandler{refreshes: make(chan string, 8), closed: make(chan error, 8)}
}

func (h *clientHandler) OnConnected(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, conn.ID())
}

func (h *clientHandler) OnMessage(_ *Conn, env protocol.Envelope) {
	if env.Op == protocol.OpRefresh {
		var r protocol.Refresh
		if env.Bind(&r) == nil {
			h.refreshes <- r.ComponentID
		}
	}
}

func (h *clientHandler) OnClosed(_ *Conn, err error)         { h.closed <- err }
func (h *clientHandler) OnError(*Conn, network.Stage, error) {}

func (h *clientHandler) connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connected)
}

func startServer(t *testing.T) (*acceptor.WSAcceptor, *httptest.Server) {
	t.Helper()
	a, err := acceptor.NewWSAcceptor(acceptor.Config{}, echoServer{}, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	return a, srv
}

func serverURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestDialRoundTrip(t *testing.T) {
	_, srv := startServer(t)
	h := newClientHandler()
	c, err := New(Config{URL: serverURL(srv)}, h)
	require.NoError(t, err)

	conn, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.NotEmpty(t, conn.ID())
	assert.True(t, c.Connected())
	assert.Equal(t, 1, h.connections())

	require.NoError(t, conn.Send(protocol.OpMount, protocol.Mount{ComponentID: "c-9"}))
	select {
	case id := <-h.refreshes:
		assert.Equal(t, "c-9", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh received")
	}

	require.NoError(t, conn.Close())
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("conn not done")
	}
	assert.False(t, c.Connected())
}

func TestDialVersionRejected(t *testing.T) {
	_, srv := startServer(t)
	c, err := New(Config{URL: serverURL(srv), Version: "3.0.0", DialAttempts: 5, DialSleep: time.Millisecond}, newClientHandler())
	require.NoError(t, err)

	_, err = c.Dial(context.Background())
	assert.ErrorIs(t, err, merr.ErrProtocolVersion)

	// Run 遇到不可恢复的错误直接返回。
	assert.ErrorIs(t, c.Run(context.Background()), merr.ErrProtocolVersion)
}

func TestDialUnreachable(t *testing.T) {
	c, err := New(Config{URL: "ws://127.0.0.1:1/ws", DialAttempts: 2, DialSleep: time.Millisecond}, newClientHandler())
	require.NoError(t, err)
	_, err = c.Dial(context.Background())
	assert.Error(t, err)
}

func TestRunReconnects(t *testing.T) {
	a, srv := startServer(t)
	h := newClientHandler()
	c, err := New(Config{URL: serverURL(srv), MaxReconnectInterval: 50 * time.Millisecond}, h)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return h.connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	// 服务器端断开会话后客户端应自动重连。
	for _, sess := range a.Sessions() {
		_ = sess.Close()
	}
	require.Eventually(t, func() bool { return h.connections() >= 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{URL: "ws://x"}, nil)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	_, err = New(Config{}, newClientHandler())
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}
