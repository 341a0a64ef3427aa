// Package hub 将 WebSocket 接入层的事件翻译为 Registry 调用。
package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/circuit-go/internal/activity"
	network "github.com/lk2023060901/circuit-go/internal/network"
	"github.com/lk2023060901/circuit-go/internal/network/acceptor"
	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/internal/network/session"
	"github.com/lk2023060901/circuit-go/internal/registry"
	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

// Config 为 Hub 的配置。
type Config struct {
	// ActivityTimeout 大于 0 时，会话在该时间内没有任何上行消息即被标记为空闲。
	ActivityTimeout time.Duration `mapstructure:"timeout"`
}

// Hub 实现 acceptor.Handler。
//
// 说明：
//   - 连接建立/断开分别对应 OnSessionOpened/OnSessionClosed；
//   - 客户端的 mount/unmount 对应组件注册与注销，远端组件的刷新通过 refresh 消息完成；
//   - 客户端上报的 activity 以及服务器侧的空闲检测都会翻译为 SetSessionState。
type Hub struct {
	log.Binder

	reg *registry.Registry
	cfg Config

	mu    sync.Mutex
	peers map[string]*peer
}

var _ acceptor.Handler = (*Hub)(nil)

// peer 为单个会话在 Hub 中的状态，mounted 只在该会话的读协程中访问。
type peer struct {
	sess    session.Session
	ctx     context.Context
	tracker *activity.Tracker
	mounted map[string]*remoteComponent
}

// New 创建一个 Hub。
func New(reg *registry.Registry, cfg Config) *Hub {
	return &Hub{
		reg:   reg,
		cfg:   cfg,
		peers: make(map[string]*peer),
	}
}

// OnConnected 实现 acceptor.Handler。
func (h *Hub) OnConnected(sess session.Session) {
	id := sess.ID()
	h.reg.OnSessionOpened(id)

	p := &peer{
		sess:    sess,
		ctx:     registry.WithHandle(sess.Context(), registry.NewHandle(id)),
		mounted: make(map[string]*remoteComponent),
	}
	if h.cfg.ActivityTimeout > 0 {
		p.tracker = activity.NewTracker(h.cfg.ActivityTimeout, func(idle bool) {
			if err := h.reg.SetSessionState(id, idle); err != nil {
				h.Logger().Debug("activity notification after close", log.FieldSessionID(id), zap.Error(err))
			}
		})
	}

	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()
}

// OnMessage 实现 acceptor.Handler。
func (h *Hub) OnMessage(sess session.Session, env protocol.Envelope) {
	h.mu.Lock()
	p, ok := h.peers[sess.ID()]
	h.mu.Unlock()
	if !ok {
		return
	}

	var err error
	switch env.Op {
	case protocol.OpActivity:
		err = h.handleActivity(p, env)
	case protocol.OpMount:
		err = h.handleMount(p, env)
	case protocol.OpUnmount:
		err = h.handleUnmount(p, env)
	default:
		err = merr.WrapErrParameterInvalidMsg("unknown op %q", env.Op)
	}
	if err != nil {
		h.OnError(sess, network.StageDispatch, err)
		_ = sess.Send(protocol.OpError, protocol.Error{
			Op:      env.Op,
			Code:    merr.Code(err),
			Message: err.Error(),
		})
	}
}

func (h *Hub) handleActivity(p *peer, env protocol.Envelope) error {
	var msg protocol.Activity
	if err := env.Bind(&msg); err != nil {
		return err
	}
	if !msg.Idle && p.tracker != nil {
		p.tracker.Touch()
	}
	return h.reg.SetSessionState(p.sess.ID(), msg.Idle)
}

func (h *Hub) handleMount(p *peer, env protocol.Envelope) error {
	var msg protocol.Mount
	if err := env.Bind(&msg); err != nil {
		return err
	}
	if msg.ComponentID == "" {
		return merr.WrapErrParameterInvalidMsg("mount: empty component id")
	}
	if _, exists := p.mounted[msg.ComponentID]; exists {
		return merr.WrapErrParameterInvalidMsg("mount: component %s already mounted", msg.ComponentID)
	}
	h.touch(p)

	rc := newRemoteComponent(p.sess, msg.ComponentID)
	if err := rc.Mount(p.ctx, h.reg, rc, rc.forwardVisibility); err != nil {
		return err
	}
	p.mounted[msg.ComponentID] = rc
	return nil
}

func (h *Hub) handleUnmount(p *peer, env protocol.Envelope) error {
	var msg protocol.Unmount
	if err := env.Bind(&msg); err != nil {
		return err
	}
	h.touch(p)

	rc, ok := p.mounted[msg.ComponentID]
	if !ok {
		return merr.WrapErrComponentNotFound(p.sess.ID(), msg.ComponentID)
	}
	delete(p.mounted, msg.ComponentID)
	return h.reg.RemoveComponent(p.sess.ID(), rc.ComponentID())
}

func (h *Hub) touch(p *peer) {
	if p.tracker != nil {
		p.tracker.Touch()
	}
}

// OnClosed 实现 acceptor.Handler。
func (h *Hub) OnClosed(sess session.Session, err error) {
	id := sess.ID()
	h.mu.Lock()
	p, ok := h.peers[id]
	delete(h.peers, id)
	h.mu.Unlock()

	if ok && p.tracker != nil {
		p.tracker.Stop()
	}
	h.reg.OnSessionClosed(id)
	if err != nil {
		h.Logger().Debug("session closed with error", log.FieldSessionID(id), zap.Error(err))
	}
}

// OnError 实现 acceptor.Handler。
func (h *Hub) OnError(sess session.Session, stage network.Stage, err error) {
	l := h.Logger().With(zap.String("stage", string(stage)))
	if sess != nil {
		l = l.With(log.FieldSessionID(sess.ID()))
	}
	l.WithRateGroup("hub.error", 1, 30).RatedWarn(1, "session error", zap.Error(err))
}

// Peers 返回当前连接数量。
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close 停止所有空闲检测。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		if p.tracker != nil {
			p.tracker.Stop()
		}
	}
}
