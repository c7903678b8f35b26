package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.ObserveRequest("echo", "completed", 10*time.Millisecond)
	rec.ObserveRequest("echo", "completed", 20*time.Millisecond)
	rec.ObserveRequest("scrape_repo", "failed", 5*time.Millisecond)

	if got := testutil.ToFloat64(rec.requestsTotal.WithLabelValues("echo", "completed")); got != 2 {
		t.Errorf("Expected 2 completed echo requests, got %v", got)
	}
	if got := testutil.ToFloat64(rec.requestsTotal.WithLabelValues("scrape_repo", "failed")); got != 1 {
		t.Errorf("Expected 1 failed scrape_repo request, got %v", got)
	}
}

func TestObserveHallucinationAndTurns(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.ObserveHallucination()
	rec.ObserveTurn("user", time.Millisecond)
	rec.ObserveTurn("reconciliation", time.Millisecond)
	rec.ObserveTurn("user", time.Millisecond)

	if got := testutil.ToFloat64(rec.hallucinationsTotal); got != 1 {
		t.Errorf("Expected 1 hallucination, got %v", got)
	}
	if got := testutil.ToFloat64(rec.turnsTotal.WithLabelValues("user")); got != 2 {
		t.Errorf("Expected 2 user turns, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("echo", "completed", time.Millisecond)
	rec.ObserveHallucination()
	rec.ObserveTurn("user", time.Millisecond)
}
