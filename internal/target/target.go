// Package target 提供渲染组件接入 Registry 的基础实现。
package target

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/lk2023060901/circuit-go/internal/registry"
	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

// Registrar 为渲染组件注册自身所需的最小能力，由 *registry.Registry 实现。
type Registrar interface {
	AddComponent(sessionID string, component *registry.Component, onStateChange registry.StateChangeFunc) error
}

var _ Registrar = (*registry.Registry)(nil)

// Base 可嵌入到具体渲染组件中。
//
// 说明：
//   - 零值可以直接使用，初始状态为可见；
//   - Mount 只在首次渲染时生效，重复调用直接返回首次的结果；
//   - 可见性标记由 Registry 通过注册时传入的回调切换。
type Base struct {
	hidden atomic.Bool

	mountOnce sync.Once
	mountErr  error
	component *registry.Component
	sessionID string
}

// Mount 通过 ctx 中的会话句柄把组件注册到 Registry。
// ctx 中没有句柄时返回 merr.ErrSessionHandleMissing。
// observers 在可见性标记切换后依次被调用。
func (b *Base) Mount(ctx context.Context, reg Registrar, r registry.Refresher, observers ...registry.StateChangeFunc) error {
	b.mountOnce.Do(func() {
		h, ok := registry.HandleFromContext(ctx)
		if !ok {
			b.mountErr = merr.WrapErrSessionHandleMissing("mount render target")
			return
		}
		c := registry.NewComponent(r)
		onStateChange := func(visible bool) {
			b.SetVisible(visible)
			for _, obs := range observers {
				obs(visible)
			}
		}
		if err := reg.AddComponent(h.SessionID(), c, onStateChange); err != nil {
			log.Ctx(ctx).Warn("mount render target failed",
				log.FieldSessionID(h.SessionID()), log.FieldComponentID(c.ID))
			b.mountErr = err
			return
		}
		b.component = c
		b.sessionID = h.SessionID()
	})
	return b.mountErr
}

// SetVisible 切换可见性标记。
func (b *Base) SetVisible(visible bool) {
	b.hidden.Store(!visible)
}

// ShouldRender 返回组件当前是否需要渲染。
func (b *Base) ShouldRender() bool {
	return !b.hidden.Load()
}

// ComponentID 返回注册后分配的组件 ID，未注册时为空。
func (b *Base) ComponentID() string {
	if b.component == nil {
		return ""
	}
	return b.component.ID
}

// SessionID 返回组件所属会话 ID，未注册时为空。
func (b *Base) SessionID() string {
	return b.sessionID
}
