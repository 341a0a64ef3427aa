package connector

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	network "github.com/lk2023060901/circuit-go/internal/network"
	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/internal/network/session"
	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
	"github.com/lk2023060901/circuit-go/pkg/util/retry"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	// URL 为服务器 WebSocket 地址，例如 ws://127.0.0.1:8080/ws。
	URL string
	// Version 为客户端声明的协议版本，为空时使用 protocol.Version。
	Version string

	SendQueueSize int

	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration

	// DialAttempts/DialSleep 控制单次 Dial 内部的重试。
	DialAttempts uint
	DialSleep    time.Duration

	// MaxReconnectInterval/MaxReconnectElapsed 控制 Run 断线重连的退避，
	// MaxReconnectElapsed 为 0 表示一直重连直到 ctx 结束。
	MaxReconnectInterval time.Duration
	MaxReconnectElapsed  time.Duration
}

func defaultConfig() Config {
	return Config{
		Version:              protocol.Version,
		SendQueueSize:        session.DefaultSendQueueSize,
		HandshakeTimeout:     5 * time.Second,
		DialAttempts:         3,
		DialSleep:            200 * time.Millisecond,
		MaxReconnectInterval: 10 * time.Second,
	}
}

// Handler 描述客户端在各阶段的回调能力。
type Handler interface {
	OnConnected(conn *Conn)
	OnMessage(conn *Conn, env protocol.Envelope)
	OnClosed(conn *Conn, err error)
	OnError(conn *Conn, stage network.Stage, err error)
}

// Conn 为客户端侧的一条连接，ID() 为服务器分配的会话 ID。
type Conn struct {
	*session.WSSession
	done chan struct{}
}

// Done 在连接关闭且 OnClosed 回调返回后关闭。
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Connector 是基于 gorilla/websocket 的客户端拨号器。
type Connector struct {
	log.Binder

	cfg       Config
	h         Handler
	connected atomic.Bool
}

// New 创建一个 Connector。
func New(cfg Config, h Handler) (*Connector, error) {
	if h == nil {
		return nil, merr.WrapErrParameterInvalidMsg("connector: handler is nil")
	}
	if _, err := url.Parse(cfg.URL); err != nil || cfg.URL == "" {
		return nil, merr.WrapErrParameterInvalidMsg("connector: invalid url %q", cfg.URL)
	}
	def := defaultConfig()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = def.DialAttempts
	}
	if cfg.DialSleep <= 0 {
		cfg.DialSleep = def.DialSleep
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = def.MaxReconnectInterval
	}
	return &Connector{cfg: cfg, h: h}, nil
}

// Connected 返回当前是否存在活跃连接。
func (c *Connector) Connected() bool {
	return c.connected.Load()
}

// Dial 建立一条连接并完成 hello 握手，失败时按配置重试。
// 服务器拒绝协议版本时不会重试。
func (c *Connector) Dial(ctx context.Context) (*Conn, error) {
	var conn *Conn
	err := retry.Do(ctx, func() error {
		var err error
		conn, err = c.dialOnce(ctx)
		return err
	}, retry.Attempts(c.cfg.DialAttempts), retry.Sleep(c.cfg.DialSleep))
	if err != nil {
		return nil, err
	}

	c.connected.Store(true)
	c.h.OnConnected(conn)
	go c.watch(conn)
	go c.readLoop(conn)
	return conn, nil
}

func (c *Connector) dialOnce(ctx context.Context) (*Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	q := u.Query()
	q.Set(protocol.VersionQueryKey, c.cfg.Version)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.h.OnError(nil, network.StageHandshake, err)
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			return nil, retry.Unrecoverable(merr.WrapErrProtocolVersion(c.cfg.Version, protocol.SupportedRange, "rejected by server"))
		}
		return nil, errors.Mark(err, network.ErrHandshakeFailed)
	}

	hello, err := c.readHello(ws)
	if err != nil {
		_ = ws.Close()
		c.h.OnError(nil, network.StageHandshake, err)
		return nil, err
	}

	sess := session.NewWSSession(ctx, hello.SessionID, ws, session.Config{
		SendQueueSize: c.cfg.SendQueueSize,
		WriteTimeout:  c.cfg.WriteTimeout,
	})
	log.Ctx(ctx).Debug("connected", log.FieldSessionID(hello.SessionID), zap.String("serverVersion", hello.Version))
	return &Conn{WSSession: sess, done: make(chan struct{})}, nil
}

// readHello 读取服务器发送的第一帧，必须为 hello。
func (c *Connector) readHello(ws *websocket.Conn) (protocol.Hello, error) {
	if err := ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return protocol.Hello{}, err
	}
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return protocol.Hello{}, errors.Mark(err, network.ErrHandshakeFailed)
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		return protocol.Hello{}, errors.Mark(err, network.ErrHandshakeFailed)
	}
	if env.Op != protocol.OpHello {
		return protocol.Hello{}, errors.Mark(errors.Newf("unexpected first frame %q", env.Op), network.ErrHandshakeFailed)
	}
	var hello protocol.Hello
	if err := env.Bind(&hello); err != nil {
		return protocol.Hello{}, errors.Mark(err, network.ErrHandshakeFailed)
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return protocol.Hello{}, err
	}
	return hello, nil
}

// watch 在连接上下文结束时关闭底层连接，使读循环退出。
func (c *Connector) watch(conn *Conn) {
	<-conn.Context().Done()
	_ = conn.Close()
}

func (c *Connector) readLoop(conn *Conn) {
	defer close(conn.done)

	var cause error
	for {
		frame, err := conn.ReadFrame(c.cfg.ReadTimeout)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				conn.Context().Err() == nil {
				c.h.OnError(conn, network.StageRecvRaw, err)
				cause = errors.Mark(err, network.ErrRecvFailed)
			}
			break
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			c.h.OnError(conn, network.StageDecode, errors.Mark(err, network.ErrDecodeFailed))
			continue
		}
		c.h.OnMessage(conn, env)
	}

	c.connected.Store(false)
	_ = conn.CloseWithCause(cause)
	c.h.OnClosed(conn, cause)
}

// Run 保持连接，断开后按指数退避重连，直到 ctx 结束或遇到不可恢复的错误。
func (c *Connector) Run(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxInterval = c.cfg.MaxReconnectInterval
	eb.MaxElapsedTime = c.cfg.MaxReconnectElapsed
	b := backoff.WithContext(eb, ctx)

	for {
		conn, err := c.Dial(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && !retry.IsRecoverable(err):
			return err
		case err != nil:
			log.Ctx(ctx).Warn("dial failed, will retry", zap.Error(err))
		default:
			<-conn.Done()
			if ctx.Err() != nil {
				return nil
			}
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return nil
			}
			return merr.WrapErrServiceClosed("reconnect given up")
		}
		log.Ctx(ctx).Info("reconnecting", zap.Duration("after", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
