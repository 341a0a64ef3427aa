// Package driver 周期性或按需触发 Registry 的广播刷新。
package driver

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lk2023060901/circuit-go/pkg/log"
	"github.com/lk2023060901/circuit-go/pkg/metrics"
	"github.com/lk2023060901/circuit-go/pkg/util/conc"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

const tracerName = "circuit/driver"

// Invoker 为 Driver 依赖的刷新能力，由 *registry.Registry 实现。
type Invoker interface {
	Invoke() int
	InvokeSession(sessionID string) int
	ActiveSessionIDs() []string
}

// Config 为 Driver 的配置。
type Config struct {
	// Interval 为周期刷新的间隔，必须大于 0。
	Interval time.Duration `mapstructure:"interval"`
	// Concurrency 大于 0 时按会话并发刷新，最多同时刷新 Concurrency 个会话。
	Concurrency int `mapstructure:"concurrency"`
	// PreAlloc 为 true 时在创建时一次性分配全部并发 worker。
	PreAlloc bool `mapstructure:"prealloc"`
	// WorkerExpiry 为空闲 worker 的回收间隔，0 表示使用默认值。
	WorkerExpiry time.Duration `mapstructure:"worker-expiry"`
}

// Driver 驱动 Registry 刷新。
//
// 说明：
//   - Concurrency 为 0 时每轮调用一次 Invoke；
//   - Concurrency 大于 0 时每轮对每个活跃会话调用 InvokeSession，
//     会话之间并发执行，同一会话内的组件仍按注册顺序刷新；
//   - 每一轮都包在一个 OpenTelemetry span 中。
type Driver struct {
	log.Binder

	inv     Invoker
	cfg     Config
	pool    *conc.Pool[int]
	trigger chan struct{}
}

// New 创建一个 Driver。
func New(inv Invoker, cfg Config) (*Driver, error) {
	if cfg.Interval <= 0 {
		return nil, merr.WrapErrParameterInvalidMsg("driver interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Concurrency < 0 {
		return nil, merr.WrapErrParameterInvalidMsg("driver concurrency must not be negative, got %d", cfg.Concurrency)
	}

	d := &Driver{
		inv:     inv,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
	if cfg.WorkerExpiry < 0 {
		return nil, merr.WrapErrParameterInvalidMsg("driver worker expiry must not be negative, got %s", cfg.WorkerExpiry)
	}
	if cfg.Concurrency > 0 {
		d.pool = conc.NewPool[int](cfg.Concurrency,
			conc.WithConcealPanic(true),
			conc.WithPreAlloc(cfg.PreAlloc),
			conc.WithWorkerExpiry(cfg.WorkerExpiry))
	}
	return d, nil
}

// InvokeNow 立即执行一轮刷新，返回本轮调用的回调数量。
func (d *Driver) InvokeNow(ctx context.Context) int {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "invoke")
	defer span.End()

	var n int
	if d.pool == nil {
		n = d.inv.Invoke()
	} else {
		n = d.fanout(ctx)
	}
	span.SetAttributes(attribute.Int("invoked", n))
	log.Ctx(ctx).RatedDebug(10, "driver round finished", zap.Int("invoked", n))
	return n
}

func (d *Driver) fanout(ctx context.Context) int {
	start := time.Now()
	ids := d.inv.ActiveSessionIDs()
	futures := lo.Map(ids, func(id string, _ int) *conc.Future[int] {
		return d.pool.Submit(func() (int, error) {
			return d.inv.InvokeSession(id), nil
		})
	})

	total := 0
	for i, f := range futures {
		n, err := f.Await()
		if err != nil {
			log.Ctx(ctx).Warn("fan-out invoke failed", log.FieldSessionID(ids[i]), zap.Error(err))
			continue
		}
		total += n
	}
	metrics.RegistryInvokeTotal.WithLabelValues(metrics.InvokeModeFanout).Inc()
	metrics.RegistryInvokeLatency.WithLabelValues(metrics.InvokeModeFanout).
		Observe(float64(time.Since(start).Microseconds()) / 1000)
	return total
}

// Trigger 请求 Run 循环尽快执行一轮刷新，重复请求会被合并。
func (d *Driver) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run 按 Interval 周期刷新，直到 ctx 结束。
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	log.Ctx(ctx).Info("driver started",
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("concurrency", d.cfg.Concurrency))
	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Info("driver stopped")
			return nil
		case <-ticker.C:
			d.InvokeNow(ctx)
		case <-d.trigger:
			d.InvokeNow(ctx)
		}
	}
}

// Close 释放协程池。
func (d *Driver) Close() {
	if d.pool != nil {
		d.pool.Release()
	}
}
