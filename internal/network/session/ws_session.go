package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	network "github.com/lk2023060901/circuit-go/internal/network"
	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/metrics"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

// DefaultSendQueueSize 为每个会话的发送队列容量。
const DefaultSendQueueSize = 256

// closeGrace 为关闭时等待正在进行的写操作完成的最长时间。
const closeGrace = time.Second

// Config 描述单个会话的发送参数。
type Config struct {
	SendQueueSize int
	WriteTimeout  time.Duration
}

// WSSession 是基于 gorilla/websocket 的 Session 实现。
//
// 设计目标：
//   - Send 只负责把编码好的帧投递到队列，由 sendLoop 串行写出，避免并发写 conn；
//   - 读循环由接入层或客户端拨号器负责，WSSession 只提供 ReadFrame；
//   - 发送失败时取消 Context，以触发上层清理。
type WSSession struct {
	id string

	ctx    context.Context
	cancel context.CancelCauseFunc

	conn *websocket.Conn
	cfg  Config

	remoteAddr net.Addr
	localAddr  net.Addr

	sendQueue chan []byte
	sendDone  chan struct{}

	closeOnce sync.Once
}

// 确保 WSSession 实现了 Session 接口。
var _ Session = (*WSSession)(nil)

// NewWSSession 创建一个会话并启动发送协程。
//
// 参数：
//   - parent：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - id    ：会话 ID；
//   - conn  ：升级完成的 WebSocket 连接。
func NewWSSession(parent context.Context, id string, conn *websocket.Conn, cfg Config) *WSSession {
	if parent == nil {
		parent = context.Background()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	ctx, cancel := context.WithCancelCause(parent)

	s := &WSSession{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		cfg:        cfg,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendQueue:  make(chan []byte, cfg.SendQueueSize),
		sendDone:   make(chan struct{}),
	}
	go s.sendLoop()
	return s
}

// ID 实现 Session.ID。
func (s *WSSession) ID() string {
	return s.id
}

// Context 实现 Session.Context。
func (s *WSSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *WSSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// LocalAddr 实现 Session.LocalAddr。
func (s *WSSession) LocalAddr() net.Addr {
	return s.localAddr
}

// Send 实现 Session.Send。
func (s *WSSession) Send(op string, msg any) error {
	frame, err := s.encode(op, msg)
	if err != nil {
		return err
	}

	select {
	case <-s.ctx.Done():
		return merr.WrapErrServiceClosed("session " + s.id)
	case s.sendQueue <- frame:
		return nil
	}
}

// TrySend 实现 Session.TrySend。
func (s *WSSession) TrySend(op string, msg any) error {
	frame, err := s.encode(op, msg)
	if err != nil {
		return err
	}

	select {
	case s.sendQueue <- frame:
		return nil
	default:
		metrics.NetworkErrors.WithLabelValues(string(network.StageSend)).Inc()
		return errors.Wrapf(network.ErrSendQueueFull, "session %s op %s", s.id, op)
	}
}

// encode 编码一帧，会话已关闭时直接返回 ErrServiceClosed。
func (s *WSSession) encode(op string, msg any) ([]byte, error) {
	if s.ctx.Err() != nil {
		return nil, merr.WrapErrServiceClosed("session " + s.id)
	}
	frame, err := protocol.Encode(op, msg)
	if err != nil {
		metrics.NetworkErrors.WithLabelValues(string(network.StageEncode)).Inc()
		return nil, errors.Mark(err, network.ErrEncodeFailed)
	}
	return frame, nil
}

// ReadFrame 读取下一帧文本消息，非文本帧会被跳过。
// 只能由单个读协程调用。
func (s *WSSession) ReadFrame(readTimeout time.Duration) ([]byte, error) {
	for {
		if readTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
				return nil, err
			}
		}
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close 实现 Session.Close。
//
// 说明：
//   - 先取消上下文并等待发送协程退出，写操作阻塞超过 closeGrace 时强制中断；
//   - 之后写 close 帧并关闭连接；
//   - 尚未写出的消息会被丢弃。
func (s *WSSession) Close() error {
	return s.CloseWithCause(nil)
}

// CloseWithCause 关闭会话，并记录关闭原因，可通过 context.Cause 读取。
func (s *WSSession) CloseWithCause(cause error) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel(cause)
		select {
		case <-s.sendDone:
		case <-time.After(closeGrace):
			// 对端不再读取时写操作可能一直阻塞，强制超时以结束发送协程。
			_ = s.conn.NetConn().SetWriteDeadline(time.Now())
			<-s.sendDone
		}

		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}

// sendLoop 为每个会话启动的专职发送协程。
func (s *WSSession) sendLoop() {
	defer close(s.sendDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.sendQueue:
			if err := s.write(frame); err != nil {
				metrics.NetworkErrors.WithLabelValues(string(network.StageSend)).Inc()
				log.Ctx(s.ctx).Debug("session send failed", log.FieldSessionID(s.id), zap.Error(err))
				s.cancel(errors.Mark(err, network.ErrSendFailed))
				return
			}
		}
	}
}

func (s *WSSession) write(frame []byte) error {
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}
