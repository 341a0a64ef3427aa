package session

import (
	"context"
	"net"
)

// Session 抽象了一条 WebSocket 会话。
//
// 约定：
//   - 每个 Session 对应一条底层 WebSocket 连接；
//   - Session ID 为字符串，由接入层在升级成功后分配，服务器端全局唯一；
//   - 框架层只关心会话本身，不关心渲染组件等具体业务概念。
type Session interface {
	// ID 返回该会话的唯一标识。
	ID() string

	// Context 返回与该会话关联的上下文，会话关闭时 Done() 被关闭。
	Context() context.Context

	// RemoteAddr 返回远端地址。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// Send 将一条消息投递到发送队列。
	//
	// 行为：
	//   - 消息按投递顺序由独立的发送协程写出；
	//   - 会话已关闭时返回错误；
	//   - 发送队列已满时阻塞，直到有空位或会话关闭。
	Send(op string, msg any) error

	// TrySend 与 Send 相同，但发送队列已满时立即返回 ErrSendQueueFull，消息被丢弃。
	// 适用于可以合并或重发的消息，例如刷新通知。
	TrySend(op string, msg any) error

	// Close 主动关闭该会话，多次调用是幂等的。
	Close() error
}
