package shardroute

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics is nil safe; a Router built without a registerer records nothing.
type metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	generationTotal  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shardroute",
			Name:      "dispatch_total",
			Help:      "Routed calls by entity, datasource and result.",
		}, []string{"entity", "datasource", "result"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shardroute",
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of routed calls including the delegate.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity"}),
		generationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shardroute",
			Name:      "descriptor_generation_total",
			Help:      "Descriptor generations by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.dispatchTotal, m.dispatchDuration, m.generationTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) dispatched(entity, datasource string, begin time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatchTotal.WithLabelValues(entity, datasource, result).Inc()
	m.dispatchDuration.WithLabelValues(entity).Observe(time.Since(begin).Seconds())
}

func (m *metrics) generated(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.generationTotal.WithLabelValues(result).Inc()
}
