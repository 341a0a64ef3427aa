package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/circuit-go/application"
	"github.com/lk2023060901/circuit-go/internal/activity"
	network "github.com/lk2023060901/circuit-go/internal/network"
	"github.com/lk2023060901/circuit-go/internal/network/connector"
	"github.com/lk2023060901/circuit-go/internal/network/protocol"
	"github.com/lk2023060901/circuit-go/pkg/log"
)

type clientOptions struct {
	url         string
	components  int
	idleTimeout time.Duration
	inputEvery  time.Duration
	inputFor    time.Duration
}

func newClientCmd(app *application.Application) *cobra.Command {
	opts := clientOptions{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run a demo render target that mounts components and reports activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.url == "" {
				s := app.Settings().Server
				opts.url = "ws://127.0.0.1" + s.Addr + s.Path
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runClient(ctx, app, opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "server websocket url, default derived from server.addr and server.path")
	cmd.Flags().IntVar(&opts.components, "components", 3, "number of components to mount")
	cmd.Flags().DurationVar(&opts.idleTimeout, "idle-timeout", 5*time.Second, "inactivity before reporting idle")
	cmd.Flags().DurationVar(&opts.inputEvery, "input-every", time.Second, "interval of simulated user input")
	cmd.Flags().DurationVar(&opts.inputFor, "input-for", 0, "stop simulated input after this long, 0 means never")
	return cmd
}

// renderTarget 是一个演示用的远端渲染端：连接后挂载组件，
// 收到 refresh 时计数，并把本地活跃度上报给服务器。
type renderTarget struct {
	log.Binder

	components int
	tracker    *activity.Tracker
	conn       atomic.Pointer[connector.Conn]
	renders    atomic.Int64
}

func newRenderTarget(components int) *renderTarget {
	return &renderTarget{components: components}
}

func (t *renderTarget) componentID(i int) string {
	return fmt.Sprintf("panel-%d", i)
}

func (t *renderTarget) OnConnected(conn *connector.Conn) {
	t.conn.Store(conn)
	t.Logger().Info("connected", log.FieldSessionID(conn.ID()))
	for i := 0; i < t.components; i++ {
		if err := conn.Send(protocol.OpMount, protocol.Mount{ComponentID: t.componentID(i)}); err != nil {
			t.Logger().Warn("mount failed", zap.Error(err))
			return
		}
	}
	if t.tracker != nil {
		t.reportActivity(!t.tracker.Active())
	}
}

func (t *renderTarget) OnMessage(conn *connector.Conn, env protocol.Envelope) {
	switch env.Op {
	case protocol.OpRefresh:
		var msg protocol.Refresh
		if err := env.Bind(&msg); err != nil {
			t.Logger().Warn("bad refresh", zap.Error(err))
			return
		}
		n := t.renders.Inc()
		t.Logger().Debug("render", log.FieldComponentID(msg.ComponentID), zap.Int64("renders", n))
	case protocol.OpVisibility:
		var msg protocol.Visibility
		if err := env.Bind(&msg); err != nil {
			t.Logger().Warn("bad visibility", zap.Error(err))
			return
		}
		t.Logger().Info("visibility changed", log.FieldComponentID(msg.ComponentID), zap.Bool("visible", msg.Visible))
	case protocol.OpError:
		var msg protocol.Error
		_ = env.Bind(&msg)
		t.Logger().Warn("server rejected request", zap.String("op", msg.Op), zap.Int32("code", msg.Code), zap.String("message", msg.Message))
	default:
		t.Logger().Debug("ignored frame", zap.String("op", env.Op), log.FieldSessionID(conn.ID()))
	}
}

func (t *renderTarget) OnClosed(conn *connector.Conn, err error) {
	t.conn.CompareAndSwap(conn, nil)
	t.Logger().Info("disconnected", log.FieldSessionID(conn.ID()), zap.Int64("renders", t.renders.Load()), zap.Error(err))
}

func (t *renderTarget) OnError(conn *connector.Conn, stage network.Stage, err error) {
	t.Logger().RatedWarn(1, "connection error", zap.String("stage", string(stage)), zap.Error(err))
}

// reportActivity 把活跃度变化发送到当前连接，未连接时丢弃。
func (t *renderTarget) reportActivity(idle bool) {
	conn := t.conn.Load()
	if conn == nil {
		return
	}
	if err := conn.Send(protocol.OpActivity, protocol.Activity{Idle: idle}); err != nil {
		t.Logger().Warn("report activity failed", zap.Error(err))
		return
	}
	t.Logger().Info("activity reported", zap.Bool("idle", idle))
}

func runClient(ctx context.Context, app *application.Application, opts clientOptions) error {
	target := newRenderTarget(opts.components)
	target.SetLogger(app.Logger("client"))

	c, err := connector.New(connector.Config{URL: opts.url}, target)
	if err != nil {
		return err
	}
	c.SetLogger(app.Logger("connector"))

	target.tracker = activity.NewTracker(opts.idleTimeout, target.reportActivity)
	defer target.tracker.Stop()
	go simulateInput(ctx, target.tracker, opts.inputEvery, opts.inputFor)

	return c.Run(ctx)
}

// simulateInput 以固定间隔触发输入事件，inputFor 之后停止，用来观察空闲切换。
func simulateInput(ctx context.Context, tracker *activity.Tracker, every, inputFor time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var stop <-chan time.Time
	if inputFor > 0 {
		timer := time.NewTimer(inputFor)
		defer timer.Stop()
		stop = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			tracker.Touch()
		}
	}
}
