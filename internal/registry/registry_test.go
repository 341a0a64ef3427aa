package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/metrics"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

type RegistrySuite struct {
	suite.Suite
	reg *Registry
}

func (s *RegistrySuite) SetupSuite() {
	log.SetupTestLogger(s.T(), &log.Config{Level: "debug"})
}

func (s *RegistrySuite) SetupTest() {
	s.reg = New()
}

func counter(c *atomic.Int32) RefreshFunc {
	return func() { c.Inc() }
}

func (s *RegistrySuite) TestOpenIsIdempotent() {
	for i := 0; i < 5; i++ {
		s.reg.OnSessionOpened("a")
	}
	s.Equal(1, s.reg.Count())

	info, ok := s.reg.Session("a")
	s.True(ok)
	s.False(info.Idle)
	s.Empty(info.Components)
}

func (s *RegistrySuite) TestOpenDoesNotResetExistingSession() {
	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), nil))
	s.NoError(s.reg.SetSessionState("a", true))

	s.reg.OnSessionOpened("a")

	info, _ := s.reg.Session("a")
	s.True(info.Idle)
	s.Len(info.Components, 1)
}

func (s *RegistrySuite) TestCloseUnknownIsNoop() {
	s.NotPanics(func() { s.reg.OnSessionClosed("missing") })
	s.reg.OnSessionOpened("a")
	s.reg.OnSessionClosed("a")
	s.reg.OnSessionClosed("a")
	s.Equal(0, s.reg.Count())
}

func (s *RegistrySuite) TestClosedSessionIsNotFound() {
	s.reg.OnSessionOpened("a")
	s.reg.OnSessionClosed("a")

	err := s.reg.AddComponent("a", NewComponent(nil), nil)
	s.ErrorIs(err, merr.ErrSessionNotFound)
	s.Contains(err.Error(), "a")

	err = s.reg.SetSessionState("a", true)
	s.ErrorIs(err, merr.ErrSessionNotFound)

	_, err = s.reg.SetVisibility("a", false)
	s.ErrorIs(err, merr.ErrSessionNotFound)

	s.ErrorIs(s.reg.RemoveComponent("a", "x"), merr.ErrSessionNotFound)
}

func (s *RegistrySuite) TestAddComponentNeverOpened() {
	err := s.reg.AddComponent("ghost", NewComponent(nil), nil)
	s.ErrorIs(err, merr.ErrSessionNotFound)
	s.Contains(err.Error(), "session=ghost")
}

func (s *RegistrySuite) TestAddComponentNil() {
	s.reg.OnSessionOpened("a")
	s.ErrorIs(s.reg.AddComponent("a", nil, nil), merr.ErrParameterInvalid)
}

func (s *RegistrySuite) TestAddComponentPreservesOrder() {
	s.reg.OnSessionOpened("a")
	var ids []string
	for i := 0; i < 10; i++ {
		c := NewComponent(nil)
		ids = append(ids, c.ID)
		s.NoError(s.reg.AddComponent("a", c, nil))
	}

	info, _ := s.reg.Session("a")
	s.Len(info.Components, 10)
	for i, c := range info.Components {
		s.Equal(ids[i], c.ID)
	}
}

func (s *RegistrySuite) TestComponentIDs() {
	a, b := NewComponent(nil), NewComponent(nil)
	s.NotEmpty(a.ID)
	s.NotEqual(a.ID, b.ID)
	s.False(a.CreatedAt.IsZero())

	c := NewComponentWithID("fixed", nil)
	s.Equal("fixed", c.ID)
}

func (s *RegistrySuite) TestInvokeEmpty() {
	s.Equal(0, s.reg.Invoke())
}

func (s *RegistrySuite) TestInvokeAllIdle() {
	var n atomic.Int32
	for _, id := range []string{"a", "b"} {
		s.reg.OnSessionOpened(id)
		s.NoError(s.reg.AddComponent(id, NewComponent(counter(&n)), nil))
		s.NoError(s.reg.SetSessionState(id, true))
	}
	s.Equal(0, s.reg.Invoke())
	s.Equal(int32(0), n.Load())
}

func (s *RegistrySuite) TestInvokeAllEmpty() {
	s.reg.OnSessionOpened("a")
	s.reg.OnSessionOpened("b")
	s.Equal(0, s.reg.Invoke())
}

func (s *RegistrySuite) TestInvokeSkipsEmptySessionID() {
	var n atomic.Int32
	s.reg.OnSessionOpened("")
	s.NoError(s.reg.AddComponent("", NewComponent(counter(&n)), nil))

	s.Equal(0, s.reg.Invoke())
	s.Equal(int32(0), n.Load())
	s.Empty(s.reg.ActiveSessionIDs())

	// 定向刷新不检查空 ID。
	s.Equal(1, s.reg.InvokeSession(""))
	s.Equal(int32(1), n.Load())
}

func (s *RegistrySuite) TestInvokeSkipsUnsetCallbacks() {
	var n atomic.Int32
	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(counter(&n)), nil))
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), nil))
	s.NoError(s.reg.AddComponent("a", NewComponent(counter(&n)), nil))

	s.Equal(2, s.reg.Invoke())
	s.Equal(int32(2), n.Load())
}

func (s *RegistrySuite) TestInvokeSkipsNilRefreshFunc() {
	s.reg.OnSessionOpened("a")
	var f RefreshFunc
	s.NoError(s.reg.AddComponent("a", NewComponent(f), nil))
	s.Equal(0, s.reg.Invoke())
	s.Equal(0, s.reg.InvokeSession("a"))

	info, _ := s.reg.Session("a")
	s.False(info.Components[0].HasRefresh)
}

type pointerRefresher struct{ n int }

func (p *pointerRefresher) Refresh() { p.n++ }

func (s *RegistrySuite) TestInvokeSkipsNilPointerRefresher() {
	panics := testutil.ToFloat64(metrics.RegistryCallbackPanics)
	s.reg.OnSessionOpened("a")
	var p *pointerRefresher
	s.NoError(s.reg.AddComponent("a", NewComponent(p), nil))

	s.Equal(0, s.reg.Invoke())
	s.Equal(0, s.reg.InvokeSession("a"))
	s.Equal(panics, testutil.ToFloat64(metrics.RegistryCallbackPanics))

	info, _ := s.reg.Session("a")
	s.False(info.Components[0].HasRefresh)
}

func (s *RegistrySuite) TestInvokeOrder() {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) RefreshFunc {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	s.reg.OnSessionOpened("b")
	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(record("a1")), nil))
	s.NoError(s.reg.AddComponent("b", NewComponent(record("b1")), nil))
	s.NoError(s.reg.AddComponent("a", NewComponent(record("a2")), nil))
	s.NoError(s.reg.AddComponent("b", NewComponent(record("b2")), nil))

	s.Equal(4, s.reg.Invoke())
	s.Equal([]string{"b1", "b2", "a1", "a2"}, order)
}

func (s *RegistrySuite) TestInvokeSessionIsolation() {
	var x, y atomic.Int32
	s.reg.OnSessionOpened("a")
	s.reg.OnSessionOpened("b")
	s.NoError(s.reg.AddComponent("a", NewComponent(counter(&x)), nil))
	s.NoError(s.reg.AddComponent("b", NewComponent(counter(&y)), nil))
	s.NoError(s.reg.AddComponent("b", NewComponent(counter(&y)), nil))

	s.Equal(2, s.reg.InvokeSession("b"))
	s.Equal(int32(0), x.Load())
	s.Equal(int32(2), y.Load())

	s.Equal(0, s.reg.InvokeSession("missing"))
}

func (s *RegistrySuite) TestInvokeSessionIdleOrEmpty() {
	var n atomic.Int32
	s.reg.OnSessionOpened("empty")
	s.Equal(0, s.reg.InvokeSession("empty"))

	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(counter(&n)), nil))
	s.NoError(s.reg.SetSessionState("a", true))
	s.Equal(0, s.reg.InvokeSession("a"))
	s.Equal(int32(0), n.Load())
}

func (s *RegistrySuite) TestIdleToggle() {
	var n atomic.Int32
	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(counter(&n)), nil))

	s.NoError(s.reg.SetSessionState("a", true))
	s.Equal(0, s.reg.Invoke())

	s.NoError(s.reg.SetSessionState("a", false))
	s.Equal(1, s.reg.Invoke())
	s.Equal(int32(1), n.Load())
}

func (s *RegistrySuite) TestEndToEnd() {
	var x, y atomic.Int32

	s.reg.OnSessionOpened("A")
	s.NoError(s.reg.AddComponent("A", NewComponent(counter(&x)), nil))
	s.NoError(s.reg.AddComponent("A", NewComponent(nil), nil))
	s.reg.OnSessionOpened("B")
	s.NoError(s.reg.AddComponent("B", NewComponent(counter(&y)), nil))

	s.Equal(2, s.reg.Invoke())
	s.Equal(int32(1), x.Load())
	s.Equal(int32(1), y.Load())

	s.NoError(s.reg.SetSessionState("A", true))
	s.Equal(1, s.reg.Invoke())
	s.Equal(int32(1), x.Load())
	s.Equal(int32(2), y.Load())

	s.reg.OnSessionClosed("A")
	s.ErrorIs(s.reg.AddComponent("A", NewComponent(counter(&x)), nil), merr.ErrSessionNotFound)
}

func (s *RegistrySuite) TestCallbackPanicIsIsolated() {
	var n atomic.Int32
	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(counter(&n)), nil))
	s.NoError(s.reg.AddComponent("a", NewComponent(RefreshFunc(func() { panic("render failed") })), nil))
	s.NoError(s.reg.AddComponent("a", NewComponent(counter(&n)), nil))

	var got int
	s.NotPanics(func() { got = s.reg.Invoke() })
	s.Equal(3, got)
	s.Equal(int32(2), n.Load())

	s.NotPanics(func() { got = s.reg.InvokeSession("a") })
	s.Equal(3, got)
}

func (s *RegistrySuite) TestCallbackReentrancy() {
	s.reg.OnSessionOpened("a")
	s.reg.OnSessionOpened("b")

	var added atomic.Bool
	reentrant := RefreshFunc(func() {
		// 回调内部修改 Registry 不能死锁，也不能破坏本轮扫描。
		s.reg.OnSessionClosed("b")
		s.reg.OnSessionOpened("c")
		if added.CompareAndSwap(false, true) {
			s.NoError(s.reg.AddComponent("a", NewComponent(RefreshFunc(func() {})), nil))
		}
		_ = s.reg.SetSessionState("a", false)
		_ = s.reg.Count()
	})
	var n atomic.Int32
	s.NoError(s.reg.AddComponent("a", NewComponent(reentrant), nil))
	s.NoError(s.reg.AddComponent("b", NewComponent(counter(&n)), nil))

	done := make(chan int)
	go func() { done <- s.reg.Invoke() }()

	select {
	case got := <-done:
		// b 的组件已在快照中，仍会被调用。
		s.Equal(2, got)
		s.Equal(int32(1), n.Load())
	case <-time.After(5 * time.Second):
		s.FailNow("invoke deadlocked")
	}

	// 新注册的组件在下一轮生效。
	s.Equal(2, s.reg.Invoke())
}

func (s *RegistrySuite) TestRemoveComponent() {
	var n atomic.Int32
	s.reg.OnSessionOpened("a")
	c1 := NewComponent(counter(&n))
	c2 := NewComponent(counter(&n))
	c3 := NewComponent(counter(&n))
	for _, c := range []*Component{c1, c2, c3} {
		s.NoError(s.reg.AddComponent("a", c, nil))
	}

	s.NoError(s.reg.RemoveComponent("a", c2.ID))
	s.ErrorIs(s.reg.RemoveComponent("a", c2.ID), merr.ErrComponentNotFound)

	info, _ := s.reg.Session("a")
	s.Len(info.Components, 2)
	s.Equal(c1.ID, info.Components[0].ID)
	s.Equal(c3.ID, info.Components[1].ID)

	s.Equal(2, s.reg.Invoke())
}

func (s *RegistrySuite) TestSetVisibility() {
	var visible1, visible2 atomic.Bool
	visible1.Store(true)
	visible2.Store(true)

	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), func(v bool) { visible1.Store(v) }))
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), nil))
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), func(v bool) { visible2.Store(v) }))

	n, err := s.reg.SetVisibility("a", false)
	s.NoError(err)
	s.Equal(2, n)
	s.False(visible1.Load())
	s.False(visible2.Load())

	// 空闲状态变化不会隐式触发可见性回调。
	s.NoError(s.reg.SetSessionState("a", false))
	s.False(visible1.Load())

	n, err = s.reg.SetVisibility("a", true)
	s.NoError(err)
	s.Equal(2, n)
	s.True(visible1.Load())
}

func (s *RegistrySuite) TestSetVisibilityPanicIsolated() {
	var called atomic.Bool
	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), func(bool) { panic("boom") }))
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), func(bool) { called.Store(true) }))

	n, err := s.reg.SetVisibility("a", false)
	s.NoError(err)
	s.Equal(2, n)
	s.True(called.Load())
}

func (s *RegistrySuite) TestSetSessionStateUpdatesActivity() {
	now := time.Unix(1000, 0)
	reg := New(WithClock(func() time.Time { return now }))

	reg.OnSessionOpened("a")
	reg.OnSessionOpened("b")
	reg.OnSessionOpened("c")

	now = now.Add(time.Second)
	s.NoError(reg.SetSessionState("a", true))
	now = now.Add(time.Second)
	s.NoError(reg.SetSessionState("c", false))

	info, _ := reg.Session("a")
	s.True(info.Idle)
	s.Equal(time.Unix(1001, 0), info.LastActivity)
	s.Equal(time.Unix(1000, 0), info.CreatedAt)

	ids := func(infos []SessionInfo) []string {
		out := make([]string, 0, len(infos))
		for _, i := range infos {
			out = append(out, i.ID)
		}
		return out
	}
	s.Equal([]string{"a", "b", "c"}, ids(reg.Sessions()))
	s.Equal([]string{"c", "a", "b"}, ids(reg.SessionsByActivity()))
}

func (s *RegistrySuite) TestActiveSessionIDs() {
	s.reg.OnSessionOpened("a")
	s.reg.OnSessionOpened("b")
	s.reg.OnSessionOpened("c")
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), nil))
	s.NoError(s.reg.AddComponent("c", NewComponent(nil), nil))
	s.Equal([]string{"a", "c"}, s.reg.ActiveSessionIDs())

	s.NoError(s.reg.SetSessionState("c", true))
	s.Equal([]string{"a"}, s.reg.ActiveSessionIDs())
}

func (s *RegistrySuite) TestDeactivatedStaysEmpty() {
	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.SetSessionState("a", true))
	s.reg.OnSessionClosed("a")
	s.Empty(s.reg.Deactivated())
}

func (s *RegistrySuite) TestSnapshotsAreCopies() {
	s.reg.OnSessionOpened("a")
	s.NoError(s.reg.AddComponent("a", NewComponent(nil), nil))

	info, _ := s.reg.Session("a")
	info.Components[0].ID = "mutated"
	info.Idle = true

	again, _ := s.reg.Session("a")
	s.NotEqual("mutated", again.Components[0].ID)
	s.False(again.Idle)
}

func (s *RegistrySuite) TestConcurrentAccess() {
	const sessions = 32
	var (
		wg      sync.WaitGroup
		invoked atomic.Int32
	)
	reg := s.reg
	ctx, cancel := context.WithCancel(context.Background())
	scanDone := make(chan struct{})

	go func() {
		defer close(scanDone)
		for ctx.Err() == nil {
			reg.Invoke()
			reg.InvokeSession("s-0")
			_ = reg.Sessions()
		}
	}()

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			reg.OnSessionOpened(id)
			for j := 0; j < 10; j++ {
				s.NoError(reg.AddComponent(id, NewComponent(counter(&invoked)), nil))
			}
			s.NoError(reg.SetSessionState(id, i%2 == 0))
			if i%4 == 0 {
				reg.OnSessionClosed(id)
			}
		}(i)
	}
	wg.Wait()
	cancel()
	<-scanDone

	s.Equal(sessions-sessions/4, s.reg.Count())
	for _, info := range s.reg.Sessions() {
		s.Len(info.Components, 10)
	}
	// 非空闲的会话为奇数编号，共 16 个，每个 10 个组件。
	s.Equal(160, s.reg.Invoke())
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}
