package registry

import "context"

// Handle 为单个会话的身份句柄。
//
// 说明：
//   - 在会话打开时创建，记录打开通知中的会话 ID，之后只读；
//   - 不持有任何业务状态，也不会修改 Registry；
//   - 通过 context 显式传递给会话内运行的代码。
type Handle struct {
	sessionID string
}

// NewHandle 创建一个会话句柄。
func NewHandle(sessionID string) *Handle {
	return &Handle{sessionID: sessionID}
}

// SessionID 返回句柄所属会话的 ID。
func (h *Handle) SessionID() string {
	if h == nil {
		return ""
	}
	return h.sessionID
}

type handleKeyType struct{}

var handleKey = handleKeyType{}

// WithHandle 返回携带会话句柄的 context。
func WithHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleKey, h)
}

// HandleFromContext 从 context 中取出会话句柄。
func HandleFromContext(ctx context.Context) (*Handle, bool) {
	if ctx == nil {
		return nil, false
	}
	h, ok := ctx.Value(handleKey).(*Handle)
	return h, ok && h != nil
}
