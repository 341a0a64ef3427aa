package hub

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	network "github.com/lk2023060901/circuit-go/internal/network"
	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/internal/registry"
)

// stalledSession 模拟一个发送队列已满、对端不再读取的会话。
type stalledSession struct {
	id     string
	ctx    context.Context
	tries  atomic.Int32
	sends  atomic.Int32
	lastOp atomic.String
}

func (s *stalledSession) ID() string               { return s.id }
func (s *stalledSession) Context() context.Context { return s.ctx }
func (s *stalledSession) RemoteAddr() net.Addr     { return nil }
func (s *stalledSession) LocalAddr() net.Addr      { return nil }
func (s *stalledSession) Close() error             { return nil }

func (s *stalledSession) Send(string, any) error {
	s.sends.Inc()
	<-s.ctx.Done()
	return s.ctx.Err()
}

func (s *stalledSession) TrySend(op string, _ any) error {
	s.tries.Inc()
	s.lastOp.Store(op)
	return network.ErrSendQueueFull
}

func TestRefreshDoesNotBlockInvoke(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	reg.OnSessionOpened("s1")
	sess := &stalledSession{id: "s1", ctx: ctx}
	rc := newRemoteComponent(sess, "panel")
	require.NoError(t, rc.Mount(registry.WithHandle(ctx, registry.NewHandle("s1")), reg, rc))

	invoked := make(chan int, 1)
	go func() { invoked <- reg.Invoke() }()
	select {
	case n := <-invoked:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke blocked on a stalled session")
	}
	assert.Equal(t, int32(1), sess.tries.Load())
	assert.Equal(t, int32(0), sess.sends.Load())
}

func TestRefreshSkippedWhileHidden(t *testing.T) {
	sess := &stalledSession{id: "s1", ctx: context.Background()}
	rc := newRemoteComponent(sess, "panel")
	rc.SetVisible(false)
	rc.Refresh()
	assert.Equal(t, int32(0), sess.tries.Load())

	rc.SetVisible(true)
	rc.Refresh()
	assert.Equal(t, int32(1), sess.tries.Load())
	assert.Equal(t, protocol.OpRefresh, sess.lastOp.Load())
}
