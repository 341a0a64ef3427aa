package registry

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Refresher 是渲染组件对外暴露的刷新能力。
//
// 说明：
//   - Registry 只负责调用 Refresh，不关心刷新如何完成；
//   - 本地组件可以直接重绘，远端组件可以通过消息通知对端刷新。
type Refresher interface {
	Refresh()
}

// RefreshFunc 将普通函数适配为 Refresher。
type RefreshFunc func()

// Refresh 实现 Refresher。
func (f RefreshFunc) Refresh() {
	f()
}

// StateChangeFunc 用于切换渲染组件本地的可见性标记。
type StateChangeFunc func(visible bool)

// Component 表示注册到某个会话中的一个渲染组件。
type Component struct {
	// ID 在进程内唯一，未显式指定时自动生成。
	ID string
	// Refresher 为刷新回调，可以为空（包括装入接口的 nil 指针）；为空时 Invoke 会静默跳过该组件。
	Refresher Refresher
	// CreatedAt 仅用于诊断。
	CreatedAt time.Time
}

// NewComponent 创建一个带自动生成 ID 的组件。
func NewComponent(r Refresher) *Component {
	return NewComponentWithID(uuid.NewString(), r)
}

// NewComponentWithID 使用调用方指定的 ID 创建组件。
// Registry 不校验 ID 的唯一性。
func NewComponentWithID(id string, r Refresher) *Component {
	return &Component{
		ID:        id,
		Refresher: r,
		CreatedAt: time.Now(),
	}
}

// refresher 返回可调用的刷新回调，未设置时返回 nil。
// nil 接口以及装入接口的 nil 指针、nil 函数等都视为未设置。
func (c *Component) refresher() Refresher {
	if c == nil || c.Refresher == nil {
		return nil
	}
	switch v := reflect.ValueOf(c.Refresher); v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		if v.IsNil() {
			return nil
		}
	}
	return c.Refresher
}
