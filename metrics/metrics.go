package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsGenerator interface {
	IncUserOpAdded(entryPoint string)
	IncUserOpRejected(code int)
	SetMempoolSize(entryPoint string, size float64)

	IncBundleSent(mode, status string)
	ObserveBundleSize(ops int)

	IncRPCRequest(method, status string)

	AddUptime(float64)
}

// BundlerMetrics contains instrumented metrics incremented by the mempool,
// the bundle builder and the JSON-RPC façade.
type BundlerMetrics struct {
	uptime prometheus.Counter

	userOpsAdded    *prometheus.CounterVec
	userOpsRejected *prometheus.CounterVec
	mempoolSize     *prometheus.GaugeVec

	bundlesSent *prometheus.CounterVec
	bundleSize  prometheus.Histogram

	rpcRequests *prometheus.CounterVec
}

const ethuoNamespace = "ethuo"

func NewBundlerMetrics(reg prometheus.Registerer) *BundlerMetrics {
	return &BundlerMetrics{
		uptime: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: ethuoNamespace,
				Name:      "uptime_milliseconds_total",
				Help:      "The elapse time in milliseconds since the bundler is booted",
			}),

		userOpsAdded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ethuoNamespace,
				Name:      "user_operations_added_total",
				Help:      "The number of user operations admitted to the mempool",
			}, []string{"entry_point"}),

		userOpsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ethuoNamespace,
				Name:      "user_operations_rejected_total",
				Help:      "The number of user operations rejected by admission checks, by JSON-RPC error code",
			}, []string{"code"}),

		mempoolSize: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ethuoNamespace,
				Name:      "mempool_size",
				Help:      "The number of user operations waiting to be bundled",
			}, []string{"entry_point"}),

		bundlesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ethuoNamespace,
				Name:      "bundles_sent_total",
				Help:      "The number of handleOps bundles submitted. If it isn't increasing while the mempool grows, the builder is stuck",
			}, []string{"mode", "status"}),

		bundleSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ethuoNamespace,
				Name:      "bundle_size",
				Help:      "The number of user operations per submitted bundle",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
			}),

		rpcRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ethuoNamespace,
				Name:      "rpc_requests_total",
				Help:      "The number of JSON-RPC requests served by the façade",
			}, []string{"method", "status"}),
	}
}

func (m *BundlerMetrics) IncUserOpAdded(entryPoint string) {
	m.userOpsAdded.WithLabelValues(entryPoint).Inc()
}

func (m *BundlerMetrics) IncUserOpRejected(code int) {
	m.userOpsRejected.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *BundlerMetrics) SetMempoolSize(entryPoint string, size float64) {
	m.mempoolSize.WithLabelValues(entryPoint).Set(size)
}

func (m *BundlerMetrics) IncBundleSent(mode, status string) {
	m.bundlesSent.WithLabelValues(mode, status).Inc()
}

func (m *BundlerMetrics) ObserveBundleSize(ops int) {
	m.bundleSize.Observe(float64(ops))
}

func (m *BundlerMetrics) IncRPCRequest(method, status string) {
	m.rpcRequests.WithLabelValues(method, status).Inc()
}

func (m *BundlerMetrics) AddUptime(total float64) {
	m.uptime.Add(total)
}

// Noop discards everything. Components fall back to it when built without metrics.
type Noop struct{}

func (Noop) IncUserOpAdded(string)          {}
func (Noop) IncUserOpRejected(int)          {}
func (Noop) SetMempoolSize(string, float64) {}
func (Noop) IncBundleSent(string, string)   {}
func (Noop) ObserveBundleSize(int)          {}
func (Noop) IncRPCRequest(string, string)   {}
func (Noop) AddUptime(float64)              {}

// Ensure returns m, or Noop when m is nil.
func Ensure(m MetricsGenerator) MetricsGenerator {
	if m == nil {
		return Noop{}
	}
	return m
}
