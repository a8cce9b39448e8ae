package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// sample returns the value of the first series of a metric family whose
// labels include want.
func sample(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return -1
}

func TestRecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)

	mc.RecordOperation("insert", time.Millisecond, nil)
	mc.RecordOperation("insert", time.Millisecond, nil)
	mc.RecordOperation("find", 2*time.Millisecond, errors.New("boom"))

	if got := sample(t, reg, "laura_operations_total", map[string]string{"op": "insert", "status": "ok"}); got != 2 {
		t.Errorf("insert ok = %v, want 2", got)
	}
	if got := sample(t, reg, "laura_operations_total", map[string]string{"op": "find", "status": "error"}); got != 1 {
		t.Errorf("find error = %v, want 1", got)
	}
	if got := sample(t, reg, "laura_operation_duration_seconds", map[string]string{"op": "insert"}); got != 2 {
		t.Errorf("insert observations = %v, want 2", got)
	}
}

func TestRecordScanAndStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)

	mc.RecordScan(ScanIndex, 3)
	mc.RecordScan(ScanCollection, 100)
	mc.RecordScan(ScanIndex, 2)
	mc.RecordStage("$group", 4, time.Microsecond)

	if got := sample(t, reg, "laura_scans_total", map[string]string{"type": "index"}); got != 2 {
		t.Errorf("index scans = %v, want 2", got)
	}
	if got := sample(t, reg, "laura_documents_examined_total", nil); got != 105 {
		t.Errorf("documents examined = %v, want 105", got)
	}
	if got := sample(t, reg, "laura_pipeline_stage_documents_total", map[string]string{"stage": "$group"}); got != 4 {
		t.Errorf("stage documents = %v, want 4", got)
	}
}

func TestCollectionGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)

	mc.SetCollectionSize("users", 10, 2)
	if got := sample(t, reg, "laura_collection_documents", map[string]string{"collection": "users"}); got != 10 {
		t.Errorf("documents = %v, want 10", got)
	}
	mc.ForgetCollection("users")
	if got := sample(t, reg, "laura_collection_documents", map[string]string{"collection": "users"}); got != -1 {
		t.Errorf("documents after forget = %v, want no series", got)
	}
}

func TestNilCollector(t *testing.T) {
	var mc *MetricsCollector
	mc.RecordOperation("insert", time.Second, nil)
	mc.RecordScan(ScanGeo, 1)
	mc.RecordStage("$match", 1, time.Second)
	mc.SetCollectionSize("x", 1, 1)
	mc.ForgetCollection("x")
	mc.RecordFilterCache(true)
}

func TestRecordFilterCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)

	mc.RecordFilterCache(false)
	mc.RecordFilterCache(true)
	mc.RecordFilterCache(true)
	if got := sample(t, reg, "laura_filter_cache_lookups_total", map[string]string{"result": "hit"}); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := sample(t, reg, "laura_filter_cache_lookups_total", map[string]string{"result": "miss"}); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}
