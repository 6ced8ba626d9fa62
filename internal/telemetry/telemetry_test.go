package telemetry

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
)

func TestHubHistoryLimit(t *testing.T) {
	h := NewHub(3)
	for i := 1; i <= 5; i++ {
		h.Report(Event{Test: "noise", Step: i, Total: 5})
	}
	hist := h.History()
	if len(hist) != 3 || hist[0].Step != 3 || hist[2].Step != 5 {
		t.Fatalf("unexpected history %+v", hist)
	}
	if hist[0].Timestamp.IsZero() {
		t.Fatalf("events should be stamped")
	}
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	h.Report(Event{Test: "ADC bit check", Step: 1, Total: 1, Done: true})
	select {
	case e := <-ch:
		if e.Test != "ADC bit check" || !e.Done {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	h.Report(Event{Test: "after cancel"})
}

func TestHubSummaries(t *testing.T) {
	h := NewHub(0)
	base := time.Unix(100, 0)
	h.Report(Event{Timestamp: base, Test: "a", Step: 1, Total: 2})
	h.Report(Event{Timestamp: base.Add(time.Second), Test: "b", Step: 1, Total: 1})
	h.Report(Event{Timestamp: base.Add(3 * time.Second), Test: "a", Step: 2, Total: 2, Done: true})
	sums := h.Summaries()
	if len(sums) != 2 || sums[0].Test != "a" || sums[1].Test != "b" {
		t.Fatalf("summaries %+v", sums)
	}
	if sums[0].Steps != 2 || !sums[0].Done || sums[0].Duration != 3*time.Second {
		t.Fatalf("summary a %+v", sums[0])
	}
	if sums[1].Done {
		t.Fatalf("b never finished")
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := MultiReporter{NewLogReporter(logging.New(logging.Debug, logging.Text, &buf)), nil, Nop{}}
	r.Report(Event{Test: "noise", Step: 2, Total: 4, Values: map[string]any{"power_dbm": -40.0}})
	r.Report(Event{Test: "noise", Done: true})
	out := buf.String()
	if !strings.Contains(out, "test step") || !strings.Contains(out, "power_dbm") || !strings.Contains(out, "test finished") {
		t.Fatalf("unexpected log output %q", out)
	}
}
