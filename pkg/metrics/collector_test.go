package metrics

import (
	"strings"
	"testing"
)

func TestCollectorIncCounterAccumulates(t *testing.T) {
	c := NewCollector()
	c.IncCounter(MetricSegmentsFetchedTotal, 1, nil)
	c.IncCounter(MetricSegmentsFetchedTotal, 1, nil)

	snap := c.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(snap))
	}
	if snap[0].Value != 2 {
		t.Errorf("expected counter value 2, got %v", snap[0].Value)
	}
}

func TestCollectorSetGaugeOverwrites(t *testing.T) {
	c := NewCollector()
	c.SetGauge(MetricBandwidthEstimateBPS, 1_000_000, nil)
	c.SetGauge(MetricBandwidthEstimateBPS, 2_000_000, nil)

	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].Value != 2_000_000 {
		t.Fatalf("expected gauge overwritten to 2_000_000, got %+v", snap)
	}
}

func TestCollectorLabelsAreDistinctSeries(t *testing.T) {
	c := NewCollector()
	c.IncCounter(MetricSegmentsCacheHitTotal, 1, map[string]string{"rendition": "720p"})
	c.IncCounter(MetricSegmentsCacheHitTotal, 1, map[string]string{"rendition": "360p"})

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 distinct series, got %d", len(snap))
	}
}

func TestExporterRenderIncludesTypeAndValue(t *testing.T) {
	c := NewCollector()
	c.IncCounter(MetricSegmentsFetchedTotal, 5, nil)
	c.SetGauge(MetricBufferedSeconds, 12.5, nil)

	out := NewExporter(c).Render()

	if !strings.Contains(out, "# TYPE segments_fetched_total counter") {
		t.Errorf("missing TYPE line for counter: %s", out)
	}
	if !strings.Contains(out, "segments_fetched_total 5") {
		t.Errorf("missing counter value: %s", out)
	}
	if !strings.Contains(out, "buffered_seconds 12.5") {
		t.Errorf("missing gauge value: %s", out)
	}
}
