package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewJobMetrics(reg)
	job := "periodic-sync"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)
	metrics.IncSkipped(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for _, name := range []string{"vetsync_job_success_total", "vetsync_job_failure_total", "vetsync_job_skipped_total"} {
		if got, err := fetchCounterValue(mfs, name, "job", job); err != nil {
			t.Fatalf("fetch %s: %v", name, err)
		} else if got != 1 {
			t.Fatalf("expected %s=1, got %f", name, got)
		}
	}

	if got, err := fetchHistogramSum(mfs, "vetsync_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestSyncMetricsExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetrics(reg)
	m.AddPushOps("accepted", 3)
	m.AddPushOps("rejected", 1)
	m.AddPushOps("ignored", 0)
	m.AddPulled(5)
	m.IncConflict("remote")
	m.SetOutbox("pending", 4)
	m.ObserveRun("push", "ok", 10*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "vetsync_push_ops_total", "result", "accepted"); err != nil || got != 3 {
		t.Fatalf("expected accepted=3, got %f (%v)", got, err)
	}
	if _, err := fetchCounterValue(mfs, "vetsync_push_ops_total", "result", "ignored"); err == nil {
		t.Fatalf("zero additions should not create a series")
	}
	if got, err := fetchCounterValue(mfs, "vetsync_conflicts_total", "winner", "remote"); err != nil || got != 1 {
		t.Fatalf("expected remote conflicts=1, got %f (%v)", got, err)
	}
	mf := findMetricFamily(mfs, "vetsync_outbox_records")
	if mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 4 {
		t.Fatalf("expected outbox gauge 4")
	}
	pulled := findMetricFamily(mfs, "vetsync_pulled_changes_total")
	if pulled == nil || pulled.GetMetric()[0].GetCounter().GetValue() != 5 {
		t.Fatalf("expected pulled counter 5")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var s *SyncMetrics
	s.AddPushOps("accepted", 1)
	s.ObserveRun("pull", "ok", time.Second)
	NewSyncMetrics(nil).IncConflict("local")

	var j *JobMetrics
	j.IncSuccess("x")
	NewJobMetrics(nil).ObserveDuration("x", time.Second)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
