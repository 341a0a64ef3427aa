package registry

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/metrics"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
	"github.com/lk2023060901/circuit-go/pkg/util/typeutil"
)

// Registry 维护所有在线会话及其渲染组件，并负责把刷新请求分发给它们。
//
// 并发模型：
//   - 会话集合与每个会话的组件列表只受一把互斥锁保护；
//   - Invoke 在锁内复制过滤后的快照，在锁外执行回调，
//     回调中再次调用 Registry 不会死锁；
//   - 与进行中的 Invoke 并发注册的组件不保证出现在本轮分发中。
type Registry struct {
	log.Binder

	mu       sync.Mutex
	sessions []*session
	index    map[string]*session
	// deactivated 为预留的停用会话集合，当前没有任何操作会写入。
	deactivated typeutil.Set[string]

	now func() time.Time
}

// Option 用于定制 Registry。
type Option func(*Registry)

// WithClock 替换 Registry 使用的时钟，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger 为 Registry 绑定 Logger。
func WithLogger(logger *log.MLogger) Option {
	return func(r *Registry) {
		r.SetLogger(logger)
	}
}

// New 创建一个空的 Registry。
func New(opts ...Option) *Registry {
	r := &Registry{
		index:       make(map[string]*session),
		deactivated: typeutil.NewSet[string](),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnSessionOpened 处理会话打开通知。
// 重复打开同一个 ID 不会产生第二条记录。
func (r *Registry) OnSessionOpened(sessionID string) {
	r.mu.Lock()
	if _, ok := r.index[sessionID]; ok {
		r.mu.Unlock()
		r.Logger().Debug("session already open", log.FieldSessionID(sessionID))
		return
	}
	s := newSession(sessionID, r.now())
	r.sessions = append(r.sessions, s)
	r.index[sessionID] = s
	r.mu.Unlock()

	metrics.RegistryOpenSessions.Inc()
	r.Logger().Debug("session opened", log.FieldSessionID(sessionID))
}

// OnSessionClosed 处理会话关闭通知，移除会话及其全部组件。
// 会话不存在时什么也不做。
func (r *Registry) OnSessionClosed(sessionID string) {
	r.mu.Lock()
	s, ok := r.index[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.index, sessionID)
	r.sessions = slices.DeleteFunc(r.sessions, func(item *session) bool { return item == s })
	removed := len(s.entries)
	r.mu.Unlock()

	metrics.RegistryOpenSessions.Dec()
	metrics.RegistryComponents.Sub(float64(removed))
	r.Logger().Debug("session closed", log.FieldSessionID(sessionID), zap.Int("components", removed))
}

// AddComponent 将组件追加到指定会话的组件列表末尾。
//
// 说明：
//   - 会话不存在时返回 merr.ErrSessionNotFound，这是调用方的时序错误，不做重试；
//   - onStateChange 会被保存，SetVisibility 时调用，可以为空。
func (r *Registry) AddComponent(sessionID string, component *Component, onStateChange StateChangeFunc) error {
	if component == nil {
		return merr.WrapErrParameterInvalidMsg("component is nil")
	}

	r.mu.Lock()
	s, ok := r.index[sessionID]
	if !ok {
		r.mu.Unlock()
		r.Logger().Warn("add component to unknown session",
			log.FieldSessionID(sessionID), log.FieldComponentID(component.ID))
		return merr.WrapErrSessionNotFound(sessionID, "add component")
	}
	s.entries = append(s.entries, entry{component: component, onStateChange: onStateChange})
	r.mu.Unlock()

	metrics.RegistryComponents.Inc()
	r.Logger().Debug("component added", log.FieldSessionID(sessionID), log.FieldComponentID(component.ID))
	return nil
}

// RemoveComponent 从会话中移除指定组件，剩余组件保持原有顺序。
func (r *Registry) RemoveComponent(sessionID, componentID string) error {
	r.mu.Lock()
	s, ok := r.index[sessionID]
	if !ok {
		r.mu.Unlock()
		return merr.WrapErrSessionNotFound(sessionID, "remove component")
	}
	idx := s.indexOf(componentID)
	if idx < 0 {
		r.mu.Unlock()
		return merr.WrapErrComponentNotFound(sessionID, componentID)
	}
	s.entries = slices.Delete(s.entries, idx, idx+1)
	r.mu.Unlock()

	metrics.RegistryComponents.Dec()
	r.Logger().Debug("component removed", log.FieldSessionID(sessionID), log.FieldComponentID(componentID))
	return nil
}

// SetSessionState 设置会话的空闲状态，并刷新最近活动时间。
// 空闲会话不参与 Invoke。
func (r *Registry) SetSessionState(sessionID string, idle bool) error {
	r.mu.Lock()
	s, ok := r.index[sessionID]
	if !ok {
		r.mu.Unlock()
		r.Logger().Warn("set state of unknown session", log.FieldSessionID(sessionID), zap.Bool("idle", idle))
		return merr.WrapErrSessionNotFound(sessionID, "set session state")
	}
	s.idle = idle
	s.lastActivity = r.now()
	r.mu.Unlock()
	return nil
}

// SetVisibility 调用会话中每个组件注册时传入的可见性回调，返回实际调用的次数。
// 回调在锁外执行。
func (r *Registry) SetVisibility(sessionID string, visible bool) (int, error) {
	r.mu.Lock()
	s, ok := r.index[sessionID]
	if !ok {
		r.mu.Unlock()
		return 0, merr.WrapErrSessionNotFound(sessionID, "set visibility")
	}
	callbacks := lo.FilterMap(s.entries, func(e entry, _ int) (stateTarget, bool) {
		return stateTarget{componentID: e.component.ID, fn: e.onStateChange}, e.onStateChange != nil
	})
	r.mu.Unlock()

	for _, cb := range callbacks {
		r.safeStateChange(sessionID, cb, visible)
	}
	return len(callbacks), nil
}

// Invoke 对所有满足条件的会话广播刷新，返回调用的回调数量。
//
// 说明：
//   - 会话按 Registry 内部顺序访问，组件按注册顺序访问；
//   - 未设置刷新回调的组件被静默跳过，不计数；
//   - 单个回调 panic 会被隔离并记录日志，仍然计入调用数量。
func (r *Registry) Invoke() int {
	start := time.Now()
	defer func() {
		metrics.RegistryInvokeLatency.WithLabelValues(metrics.InvokeModeBroadcast).
			Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()
	metrics.RegistryInvokeTotal.WithLabelValues(metrics.InvokeModeBroadcast).Inc()

	r.mu.Lock()
	qualifying := lo.Filter(r.sessions, func(s *session, _ int) bool { return s.qualifies() })
	if len(qualifying) == 0 {
		r.mu.Unlock()
		return 0
	}
	targets := lo.FlatMap(qualifying, func(s *session, _ int) []refreshTarget { return s.refreshTargets() })
	r.mu.Unlock()

	n := r.dispatch(targets)
	metrics.RegistryCallbacksInvoked.WithLabelValues(metrics.InvokeModeBroadcast).Add(float64(n))
	r.Logger().Debug("invoke finished", zap.Int("sessions", len(qualifying)), zap.Int("invoked", n))
	return n
}

// InvokeSession 只刷新指定会话中的组件。
// 会话不存在、处于空闲或没有组件时返回 0。
func (r *Registry) InvokeSession(sessionID string) int {
	start := time.Now()
	defer func() {
		metrics.RegistryInvokeLatency.WithLabelValues(metrics.InvokeModeTargeted).
			Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()
	metrics.RegistryInvokeTotal.WithLabelValues(metrics.InvokeModeTargeted).Inc()

	r.mu.Lock()
	s, ok := r.index[sessionID]
	if !ok || s.idle || len(s.entries) == 0 {
		r.mu.Unlock()
		return 0
	}
	targets := s.refreshTargets()
	r.mu.Unlock()

	n := r.dispatch(targets)
	metrics.RegistryCallbacksInvoked.WithLabelValues(metrics.InvokeModeTargeted).Add(float64(n))
	r.Logger().Debug("invoke session finished", log.FieldSessionID(sessionID), zap.Int("invoked", n))
	return n
}

// ActiveSessionIDs 返回当前参与广播刷新的会话 ID，按 Registry 内部顺序排列。
func (r *Registry) ActiveSessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.FilterMap(r.sessions, func(s *session, _ int) (string, bool) {
		return s.id, s.qualifies()
	})
}

// Session 返回指定会话的快照。
func (r *Registry) Session(sessionID string) (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.index[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Sessions 按 Registry 内部顺序返回所有会话的快照。
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.sessions, func(s *session, _ int) SessionInfo { return s.info() })
}

// SessionsByActivity 按最近活动时间倒序返回会话快照，时间相同的保持 Registry 顺序。
func (r *Registry) SessionsByActivity() []SessionInfo {
	infos := r.Sessions()
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].LastActivity.After(infos[j].LastActivity)
	})
	return infos
}

// Count 返回在线会话数量。
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Deactivated 返回停用会话 ID。
// 该集合为预留扩展点，目前始终为空。
func (r *Registry) Deactivated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.deactivated.Collect()
	sort.Strings(ids)
	return ids
}
