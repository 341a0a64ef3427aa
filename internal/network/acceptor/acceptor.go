package acceptor

import (
	"context"
	"net"
	"time"

	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/circuit-go/internal/network"
	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/internal/network/session"
)

// Config 描述 Acceptor 在会话层面的配置。
//
// 说明：
//   - SendQueueSize 控制每个连接的发送队列大小；
//   - ReadTimeout/WriteTimeout 控制单次读写的超时时间（为 0 表示不设置 deadline）；
//   - Path 控制 WebSocket 的升级路径（如 "/ws"）。
type Config struct {
	SendQueueSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Path string

	// Upgrader 允许调用方自定义 gorilla/websocket 的升级行为。
	// 若为 nil，则使用内部默认的 Upgrader。
	Upgrader *websocket.Upgrader

	// NewSessionID 用于生成会话 ID，为 nil 时使用 uuid。
	NewSessionID func() string
}

// 默认配置。
func defaultConfig() Config {
	return Config{
		SendQueueSize: session.DefaultSendQueueSize,
		Path:          "/ws",
	}
}

// Handler 由框架使用者实现，用于在服务器侧的各个阶段插入自定义逻辑。
//
// 说明：
//   - 同一会话上的回调串行执行，都在该会话的读协程中被调用；
//   - 应避免耗时操作阻塞网络收发。
type Handler interface {
	// OnConnected 在握手成功、hello 已入队后被调用。
	OnConnected(sess session.Session)

	// OnMessage 在成功解码出一条消息后被调用。
	OnMessage(sess session.Session, env protocol.Envelope)

	// OnClosed 在会话生命周期结束时被调用，正常关闭时 err 为 nil。
	OnClosed(sess session.Session, err error)

	// OnError 在会话处理的各个阶段发生错误时被调用。
	// 握手阶段失败时 sess 为 nil。
	OnError(sess session.Session, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的 WebSocket 接入层。
//
// 职责：
//   - 处理 WebSocket 升级与协议版本协商；
//   - 为每个连接分配会话 ID，创建 Session，并调用 Handler 的各阶段回调；
//   - 维护当前活跃会话列表，便于运维与监控。
type Acceptor interface {
	// Serve 在给定 listener 上启动服务，阻塞直至 ctx 取消或出现致命错误。
	Serve(ctx context.Context, ln net.Listener) error

	// Close 主动关闭所有会话以及内部资源。
	Close() error

	// Sessions 返回当前活跃会话的快照。
	Sessions() []session.Session
}
