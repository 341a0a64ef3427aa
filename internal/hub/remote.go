package hub

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/internal/network/session"
	"github.com/lk2023060901/circuit-go/internal/target"
	"github.com/lk2023060901/circuit-go/pkg/log"
)

// remoteComponent 代表客户端上的一个渲染组件，刷新与可见性切换都通过消息转发。
type remoteComponent struct {
	target.Base

	clientID string
	sess     session.Session
}

func newRemoteComponent(sess session.Session, clientID string) *remoteComponent {
	return &remoteComponent{clientID: clientID, sess: sess}
}

// Refresh 实现 registry.Refresher。
// 刷新通知是幂等的，发送队列已满或会话已关闭时直接丢弃，不阻塞 Invoke。
func (c *remoteComponent) Refresh() {
	if !c.ShouldRender() {
		return
	}
	if err := c.sess.TrySend(protocol.OpRefresh, protocol.Refresh{ComponentID: c.clientID}); err != nil {
		log.Ctx(c.sess.Context()).With(log.FieldComponentID(c.clientID)).
			WithRateGroup("hub.refresh", 1, 60).
			RatedDebug(1, "drop refresh", zap.Error(err))
	}
}

func (c *remoteComponent) forwardVisibility(visible bool) {
	_ = c.sess.Send(protocol.OpVisibility, protocol.Visibility{ComponentID: c.clientID, Visible: visible})
}
