package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "tickstat"

var (
	requestsDesc    = prometheus.NewDesc(promNamespace+"_requests_total", "Requests received since the engine started.", nil, nil)
	responsesDesc   = prometheus.NewDesc(promNamespace+"_responses_total", "Responses sent since the engine started, by status code.", []string{"code"}, nil)
	responseBytes   = prometheus.NewDesc(promNamespace+"_response_bytes_total", "Response body bytes sent since the engine started.", nil, nil)
	inFlightDesc    = prometheus.NewDesc(promNamespace+"_requests_in_flight", "Requests currently being served.", nil, nil)
	connectionsDesc = prometheus.NewDesc(promNamespace+"_open_connections", "Client connections currently open.", nil, nil)
	memoryDesc      = prometheus.NewDesc(promNamespace+"_memory_bytes", "Last successful process memory reading.", nil, nil)
	latencyDesc     = prometheus.NewDesc(promNamespace+"_response_time_microseconds", "Response time percentiles of the last closed interval.", []string{"quantile"}, nil)
	droppedDesc     = prometheus.NewDesc(promNamespace+"_dropped_events_total", "Events discarded because the ingest queue was full.", nil, nil)
	malformedDesc   = prometheus.NewDesc(promNamespace+"_malformed_events_total", "Events with out of range values that were clamped.", nil, nil)
	queueDepthDesc  = prometheus.NewDesc(promNamespace+"_queue_depth", "Events waiting in the ingest queue.", nil, nil)
	queueCapDesc    = prometheus.NewDesc(promNamespace+"_queue_capacity", "Ingest queue capacity.", nil, nil)
	subscribersDesc = prometheus.NewDesc(promNamespace+"_feed_subscribers", "Live feed subscribers.", nil, nil)
	intervalsDesc   = prometheus.NewDesc(promNamespace+"_intervals_total", "Intervals closed since the engine started.", nil, nil)
)

// PrometheusCollector exposes engine statistics to a Prometheus registry.
// Values are read from Summary on every scrape.
type PrometheusCollector struct {
	Engine *Engine
}

var _ prometheus.Collector = new(PrometheusCollector)

func (*PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsDesc
	ch <- responsesDesc
	ch <- responseBytes
	ch <- inFlightDesc
	ch <- connectionsDesc
	ch <- memoryDesc
	ch <- latencyDesc
	ch <- droppedDesc
	ch <- malformedDesc
	ch <- queueDepthDesc
	ch <- queueCapDesc
	ch <- subscribersDesc
	ch <- intervalsDesc
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.Engine.Summary()

	ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(s.Requests))
	for code, n := range s.Codes {
		ch <- prometheus.MustNewConstMetric(responsesDesc, prometheus.CounterValue, float64(n), code)
	}
	ch <- prometheus.MustNewConstMetric(responseBytes, prometheus.CounterValue, float64(s.Bytes))
	ch <- prometheus.MustNewConstMetric(inFlightDesc, prometheus.GaugeValue, float64(s.InFlight))
	ch <- prometheus.MustNewConstMetric(connectionsDesc, prometheus.GaugeValue, float64(s.Connections))
	if s.MemoryBytes != nil {
		ch <- prometheus.MustNewConstMetric(memoryDesc, prometheus.GaugeValue, float64(*s.MemoryBytes))
	}
	if snap, ok := s.Latest[TypeTimes]; ok && snap.Count > 0 {
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, float64(snap.P50), "0.5")
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, float64(snap.P90), "0.9")
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, float64(snap.P99), "0.99")
	}
	var intervals uint64
	if snap, ok := s.Latest[TypeRequests]; ok {
		intervals = snap.Seq
	}
	ch <- prometheus.MustNewConstMetric(intervalsDesc, prometheus.CounterValue, float64(intervals))
	ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(s.DroppedEvents))
	ch <- prometheus.MustNewConstMetric(malformedDesc, prometheus.CounterValue, float64(s.MalformedEvents))
	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(s.QueueDepth))
	ch <- prometheus.MustNewConstMetric(queueCapDesc, prometheus.GaugeValue, float64(s.QueueCapacity))
	ch <- prometheus.MustNewConstMetric(subscribersDesc, prometheus.GaugeValue, float64(s.Subscribers))
}
