package acceptor

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	network "github.com/lk2023060901/circuit-go/internal/network"
	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/internal/network/session"
	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/metrics"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

// WSAcceptor 是 Acceptor 的 WebSocket 实现，同时实现 http.Handler，
// 可以直接挂到已有的 http.ServeMux 上。
//
// 连接流程：
//  1. 校验 query 中的协议版本，不兼容时返回 400；
//  2. 升级为 WebSocket，分配会话 ID，创建 Session 并注册到 SessionManager；
//  3. 发送 hello，回调 Handler.OnConnected；
//  4. 在当前协程中顺序读取并解码消息，回调 Handler.OnMessage；
//  5. 读失败后回调 Handler.OnClosed，注销并关闭 Session。
type WSAcceptor struct {
	log.Binder

	cfg      Config
	h        Handler
	upgrader *websocket.Upgrader
	sessions session.SessionManager

	// mu 串行化 closed 的置位与 wg.Add，保证 Close 开始等待后不再有新的 Add。
	mu     sync.Mutex
	closed atomic.Bool
	wg     sync.WaitGroup
}

// 确保 WSAcceptor 实现了 Acceptor 与 http.Handler 接口。
var (
	_ Acceptor     = (*WSAcceptor)(nil)
	_ http.Handler = (*WSAcceptor)(nil)
)

// NewWSAcceptor 创建一个 WebSocket 接入器。
//
// 参数：
//   - cfg ：接入配置，零值字段使用默认值；
//   - h   ：各阶段回调，不能为空；
//   - sm  ：SessionManager，为 nil 时内部创建一个。
func NewWSAcceptor(cfg Config, h Handler, sm session.SessionManager) (*WSAcceptor, error) {
	if h == nil {
		return nil, merr.WrapErrParameterInvalidMsg("acceptor: handler is nil")
	}
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	upgrader := cfg.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		}
	}
	if sm == nil {
		sm = session.NewBaseSessionManager()
	}
	return &WSAcceptor{
		cfg:      cfg,
		h:        h,
		upgrader: upgrader,
		sessions: sm,
	}, nil
}

// Path 返回升级路径。
func (a *WSAcceptor) Path() string {
	return a.cfg.Path
}

// Serve 实现 Acceptor.Serve。
func (a *WSAcceptor) Serve(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		return merr.WrapErrParameterInvalidMsg("acceptor: listener is nil")
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Path, a)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close 实现 Acceptor.Close，关闭所有会话并等待读协程退出。
func (a *WSAcceptor) Close() error {
	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		return nil
	}
	a.closed.Store(true)
	a.mu.Unlock()

	a.sessions.Range(func(sess session.Session) bool {
		_ = sess.Close()
		return true
	})
	a.wg.Wait()
	return nil
}

// Sessions 实现 Acceptor.Sessions。
func (a *WSAcceptor) Sessions() []session.Session {
	out := make([]session.Session, 0, a.sessions.Count())
	a.sessions.Range(func(sess session.Session) bool {
		out = append(out, sess)
		return true
	})
	return out
}

// ServeHTTP 实现 http.Handler，处理单个连接的完整生命周期。
func (a *WSAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.closed.Load() {
		http.Error(w, merr.WrapErrServiceClosed("acceptor").Error(), http.StatusServiceUnavailable)
		return
	}

	version, err := protocol.CheckVersion(r.URL.Query().Get(protocol.VersionQueryKey))
	if err != nil {
		a.fail(nil, network.StageHandshake, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 失败时已经向客户端写出了错误响应。
		a.fail(nil, network.StageHandshake, errors.Mark(err, network.ErrHandshakeFailed))
		return
	}

	if !a.track() {
		_ = conn.Close()
		return
	}
	defer a.wg.Done()

	id := a.cfg.NewSessionID()
	ctx := log.WithSessionID(r.Context(), id)
	sess := session.NewWSSession(ctx, id, conn, session.Config{
		SendQueueSize: a.cfg.SendQueueSize,
		WriteTimeout:  a.cfg.WriteTimeout,
	})
	if err := a.sessions.Register(sess); err != nil {
		a.fail(sess, network.StageHandshake, err)
		_ = sess.Close()
		return
	}
	defer func() {
		_ = a.sessions.Unregister(id)
	}()
	if a.closed.Load() {
		_ = sess.CloseWithCause(merr.WrapErrServiceClosed("acceptor"))
		return
	}

	metrics.NetworkConnections.Inc()
	defer metrics.NetworkConnections.Dec()

	log.Ctx(ctx).Debug("session accepted",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("version", version.String()))

	if err := sess.Send(protocol.OpHello, protocol.Hello{SessionID: id, Version: protocol.Version}); err != nil {
		a.fail(sess, network.StageSend, err)
		_ = sess.Close()
		return
	}
	a.h.OnConnected(sess)

	cause := a.readLoop(sess)
	a.h.OnClosed(sess, cause)
	_ = sess.CloseWithCause(cause)
	log.Ctx(ctx).Debug("session finished", zap.Error(cause))
}

// track 在接入器未关闭时登记一个连接协程，已关闭时返回 false。
func (a *WSAcceptor) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return false
	}
	a.wg.Add(1)
	return true
}

// readLoop 持续读取并解码消息，返回会话结束的原因，对端正常关闭时返回 nil。
func (a *WSAcceptor) readLoop(sess *session.WSSession) error {
	for {
		frame, err := sess.ReadFrame(a.cfg.ReadTimeout)
		if err != nil {
			if isNormalClose(err) || sess.Context().Err() != nil {
				return context.Cause(sess.Context())
			}
			a.fail(sess, network.StageRecvRaw, err)
			return errors.Mark(err, network.ErrRecvFailed)
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			// 单帧解码失败不影响后续消息。
			a.fail(sess, network.StageDecode, errors.Mark(err, network.ErrDecodeFailed))
			continue
		}
		a.h.OnMessage(sess, env)
	}
}

func (a *WSAcceptor) fail(sess session.Session, stage network.Stage, err error) {
	metrics.NetworkErrors.WithLabelValues(string(stage)).Inc()
	a.h.OnError(sess, stage, err)
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
