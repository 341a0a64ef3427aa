package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	registryMetricSubsystem = "registry"
	networkMetricSubsystem  = "network"
)

var (
	RegistryOpenSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: circuitNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "open_sessions",
		Help:      "当前处于打开状态的会话数量",
	})

	RegistryComponents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: circuitNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "components",
		Help:      "当前已注册的渲染组件数量",
	})

	RegistryInvokeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: circuitNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "invoke_total",
		Help:      "Invoke 调用次数",
	}, []string{invokeModeLabelName})

	RegistryCallbacksInvoked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: circuitNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "callbacks_invoked_total",
		Help:      "Invoke 触发的刷新回调次数",
	}, []string{invokeModeLabelName})

	RegistryCallbackPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: circuitNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "callback_panics_total",
		Help:      "刷新回调或可见性回调发生 panic 的次数",
	})

	RegistryInvokeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: circuitNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "invoke_latency",
		Help:      "单次 Invoke 的耗时（毫秒）",
		Buckets:   buckets,
	}, []string{invokeModeLabelName})

	NetworkConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: circuitNamespace,
		Subsystem: networkMetricSubsystem,
		Name:      "connections",
		Help:      "当前活跃的 WebSocket 连接数量",
	})

	NetworkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: circuitNamespace,
		Subsystem: networkMetricSubsystem,
		Name:      "errors_total",
		Help:      "网络收发链路各阶段的错误次数",
	}, []string{stageLabelName})
)

func registerRegistryMetrics(r prometheus.Registerer) {
	r.MustRegister(RegistryOpenSessions)
	r.MustRegister(RegistryComponents)
	r.MustRegister(RegistryInvokeTotal)
	r.MustRegister(RegistryCallbacksInvoked)
	r.MustRegister(RegistryCallbackPanics)
	r.MustRegister(RegistryInvokeLatency)
}

func registerNetworkMetrics(r prometheus.Registerer) {
	r.MustRegister(NetworkConnections)
	r.MustRegister(NetworkErrors)
}
