package registry

import (
	"time"

	"github.com/samber/lo"
)

// entry 将组件与注册时传入的可见性回调绑定在一起。
type entry struct {
	component     *Component
	onStateChange StateChangeFunc
}

// session 为 Registry 内部持有的会话记录，只能在持锁状态下访问。
type session struct {
	id           string
	idle         bool
	lastActivity time.Time
	createdAt    time.Time
	entries      []entry
}

func newSession(id string, now time.Time) *session {
	return &session{
		id:        id,
		createdAt: now,
	}
}

// qualifies 判断会话是否参与广播刷新：非空闲、至少一个组件、ID 非空。
func (s *session) qualifies() bool {
	return !s.idle && len(s.entries) > 0 && s.id != ""
}

// refreshTargets 复制出当前会话中所有已设置刷新回调的组件，按注册顺序排列。
func (s *session) refreshTargets() []refreshTarget {
	return lo.FilterMap(s.entries, func(e entry, _ int) (refreshTarget, bool) {
		r := e.component.refresher()
		if r == nil {
			return refreshTarget{}, false
		}
		return refreshTarget{
			sessionID:   s.id,
			componentID: e.component.ID,
			refresher:   r,
		}, true
	})
}

func (s *session) indexOf(componentID string) int {
	_, idx, ok := lo.FindIndexOf(s.entries, func(e entry) bool {
		return e.component.ID == componentID
	})
	if !ok {
		return -1
	}
	return idx
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:           s.id,
		Idle:         s.idle,
		LastActivity: s.lastActivity,
		CreatedAt:    s.createdAt,
		Components: lo.Map(s.entries, func(e entry, _ int) ComponentInfo {
			return ComponentInfo{
				ID:         e.component.ID,
				CreatedAt:  e.component.CreatedAt,
				HasRefresh: e.component.refresher() != nil,
			}
		}),
	}
}

// SessionInfo 是会话记录的只读快照，用于诊断输出。
type SessionInfo struct {
	ID           string
	Idle         bool
	LastActivity time.Time
	CreatedAt    time.Time
	Components   []ComponentInfo
}

// ComponentInfo 是组件的只读快照。
type ComponentInfo struct {
	ID         string
	CreatedAt  time.Time
	HasRefresh bool
}
