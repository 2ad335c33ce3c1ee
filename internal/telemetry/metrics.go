package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hwstress"

// Metrics はハーネス全体の Prometheus コレクタ
type Metrics struct {
	registry *prometheus.Registry

	workerRuns       *prometheus.CounterVec
	workerDuration   *prometheus.HistogramVec
	workerOperations *prometheus.CounterVec

	faultsInjected  *prometheus.CounterVec
	faultsRecovered *prometheus.CounterVec
	faultsActive    prometheus.Gauge

	samples prometheus.Counter
}

// NewMetrics は専用レジストリ上にコレクタを作成する
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: kind, status (COMPLETED, FAILED, TIMEOUT, INTERRUPTED)
		workerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_runs_total",
			Help:      "Worker runs by kind and terminal status",
		}, []string{"kind", "status"}),

		workerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_run_duration_seconds",
			Help:      "Wall clock duration of worker runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"kind"}),

		workerOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_operations_total",
			Help:      "Iterations completed by workers",
		}, []string{"kind"}),

		// Labels: type, severity, success (true, false)
		faultsInjected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_injected_total",
			Help:      "Fault injection attempts that were recorded",
		}, []string{"type", "severity", "success"}),

		faultsRecovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_recovered_total",
			Help:      "Faults torn down by recovery or clear",
		}, []string{"type"}),

		faultsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "faults_active",
			Help:      "Currently active faults",
		}),

		samples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_samples_total",
			Help:      "Samples taken by the metrics provider",
		}),
	}
}

// Registry はレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler は /metrics 用のハンドラを返す
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWorkerRun はワーカー実行の完了を記録する
func (m *Metrics) ObserveWorkerRun(kind, status string, elapsed time.Duration, operations uint64) {
	if m == nil {
		return
	}
	m.workerRuns.WithLabelValues(kind, status).Inc()
	m.workerDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.workerOperations.WithLabelValues(kind).Add(float64(operations))
}

// FaultInjected は障害注入の記録を数える
func (m *Metrics) FaultInjected(faultType, severity string, success bool) {
	if m == nil {
		return
	}
	m.faultsInjected.WithLabelValues(faultType, severity, strconv.FormatBool(success)).Inc()
}

// FaultRecovered は障害の復旧を数える
func (m *Metrics) FaultRecovered(faultType string) {
	if m == nil {
		return
	}
	m.faultsRecovered.WithLabelValues(faultType).Inc()
}

// SetFaultsActive はアクティブな障害数を設定する
func (m *Metrics) SetFaultsActive(n int) {
	if m == nil {
		return
	}
	m.faultsActive.Set(float64(n))
}

// SampleTaken はメトリクスサンプルを数える
func (m *Metrics) SampleTaken() {
	if m == nil {
		return
	}
	m.samples.Inc()
}
