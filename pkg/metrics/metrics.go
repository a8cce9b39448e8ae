// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan kinds reported by RecordScan.
const (
	ScanIndex      = "index"
	ScanCollection = "collection"
	ScanGeo        = "geo"
)

// MetricsCollector collects performance metrics for the database. A nil
// collector discards everything.
type MetricsCollector struct {
	operations    *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	scans         *prometheus.CounterVec
	docsExamined  prometheus.Counter
	stageDuration *prometheus.HistogramVec
	stageDocs     *prometheus.CounterVec
	documents     *prometheus.GaugeVec
	indexes       *prometheus.GaugeVec
	filterCache   *prometheus.CounterVec
}

// NewMetricsCollector creates a collector and registers it with reg.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laura",
			Name:      "operations_total",
			Help:      "Total engine operations by command and outcome",
		}, []string{"op", "status"}),

		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "laura",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),

		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laura",
			Name:      "scans_total",
			Help:      "Query access paths chosen by the planner",
		}, []string{"type"}),

		docsExamined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "laura",
			Name:      "documents_examined_total",
			Help:      "Documents checked against a filter",
		}),

		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "laura",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Aggregation stage duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"stage"}),

		stageDocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laura",
			Name:      "pipeline_stage_documents_total",
			Help:      "Documents produced by aggregation stages",
		}, []string{"stage"}),

		documents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "laura",
			Name:      "collection_documents",
			Help:      "Number of documents per collection",
		}, []string{"collection"}),

		indexes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "laura",
			Name:      "collection_indexes",
			Help:      "Number of indexes per collection",
		}, []string{"collection"}),

		filterCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laura",
			Name:      "filter_cache_lookups_total",
			Help:      "Compiled filter cache lookups by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		mc.operations, mc.opDuration,
		mc.scans, mc.docsExamined,
		mc.stageDuration, mc.stageDocs,
		mc.documents, mc.indexes,
		mc.filterCache,
	)
	return mc
}

// RecordOperation records one engine command.
func (mc *MetricsCollector) RecordOperation(op string, duration time.Duration, err error) {
	if mc == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	mc.operations.WithLabelValues(op, status).Inc()
	mc.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordScan records the access path of one query and how many documents
// it checked.
func (mc *MetricsCollector) RecordScan(kind string, examined int) {
	if mc == nil {
		return
	}
	mc.scans.WithLabelValues(kind).Inc()
	mc.docsExamined.Add(float64(examined))
}

// RecordStage records one aggregation stage run.
func (mc *MetricsCollector) RecordStage(stage string, docsOut int, elapsed time.Duration) {
	if mc == nil {
		return
	}
	mc.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	mc.stageDocs.WithLabelValues(stage).Add(float64(docsOut))
}

// SetCollectionSize publishes the document and index counts of a
// collection.
func (mc *MetricsCollector) SetCollectionSize(collection string, docs, indexes int) {
	if mc == nil {
		return
	}
	mc.documents.WithLabelValues(collection).Set(float64(docs))
	mc.indexes.WithLabelValues(collection).Set(float64(indexes))
}

// ForgetCollection drops the gauges of a dropped collection.
func (mc *MetricsCollector) ForgetCollection(collection string) {
	if mc == nil {
		return
	}
	mc.documents.DeleteLabelValues(collection)
	mc.indexes.DeleteLabelValues(collection)
}

// RecordFilterCache records one compiled filter cache lookup.
func (mc *MetricsCollector) RecordFilterCache(hit bool) {
	if mc == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	mc.filterCache.WithLabelValues(result).Inc()
}
