package registry

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/metrics"
)

const callbackRateGroup = "registry.callback"

// refreshTarget 为锁内复制出的一次刷新调用。
type refreshTarget struct {
	sessionID   string
	componentID string
	refresher   Refresher
}

type stateTarget struct {
	componentID string
	fn          StateChangeFunc
}

// dispatch 依次执行刷新回调，返回调用次数。
func (r *Registry) dispatch(targets []refreshTarget) int {
	for _, t := range targets {
		r.safeRefresh(t)
	}
	return len(targets)
}

func (r *Registry) safeRefresh(t refreshTarget) {
	defer func() {
		if x := recover(); x != nil {
			metrics.RegistryCallbackPanics.Inc()
			r.Logger().With(log.FieldSessionID(t.sessionID), log.FieldComponentID(t.componentID)).
				WithRateGroup(callbackRateGroup, 1, 60).
				RatedWarn(1, "refresh callback panicked", zap.Any("panic", x))
		}
	}()
	t.refresher.Refresh()
}

func (r *Registry) safeStateChange(sessionID string, t stateTarget, visible bool) {
	defer func() {
		if x := recover(); x != nil {
			metrics.RegistryCallbackPanics.Inc()
			r.Logger().With(log.FieldSessionID(sessionID), log.FieldComponentID(t.componentID)).
				WithRateGroup(callbackRateGroup, 1, 60).
				RatedWarn(1, "state change callback panicked", zap.Bool("visible", visible), zap.Any("panic", x))
		}
	}()
	t.fn(visible)
}
