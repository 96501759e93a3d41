package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kestrelhq/admitgate/internal/counters"
)

func TestCollectorExposesRateAndAverage(t *testing.T) {
	rate, err := counters.NewRollingRate(10)
	if err != nil {
		t.Fatalf("NewRollingRate: %v", err)
	}
	avg, err := counters.NewRollingAverage(10)
	if err != nil {
		t.Fatalf("NewRollingAverage: %v", err)
	}
	avg.Record(100)
	avg.Record(200)

	c := NewCollector(Source{Rate: rate, Average: avg})

	got, err := testutil.GatherAndCount(c.Registry())
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if got != 2 {
		t.Fatalf("metric count = %d, want 2", got)
	}

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sawAvg bool
	for _, fam := range families {
		if fam.GetName() != "admitgate_response_time_ms_avg" {
			continue
		}
		sawAvg = true
		if got := fam.Metric[0].GetGauge().GetValue(); got != 150 {
			t.Errorf("response_time_ms_avg = %v, want 150", got)
		}
	}
	if !sawAvg {
		t.Fatal("admitgate_response_time_ms_avg not found in gathered families")
	}
}

func TestCollectorNamesMatchConvention(t *testing.T) {
	rate, _ := counters.NewRollingRate(5)
	avg, _ := counters.NewRollingAverage(5)
	c := NewCollector(Source{Rate: rate, Average: avg})

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if !strings.HasPrefix(fam.GetName(), "admitgate_") {
			t.Errorf("metric %q missing admitgate_ prefix", fam.GetName())
		}
	}
}
