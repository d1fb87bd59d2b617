package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounter(t *testing.T) {
	r := NewBare()
	c := r.Counter("test_total", "A test counter", "label")
	c.WithLabelValues("Person").Inc()
	c.WithLabelValues("Person").Add(5)
	c.WithLabelValues("Car").Inc()

	if got := testutil.ToFloat64(c.WithLabelValues("Person")); got != 6 {
		t.Fatalf("expected 6, got %v", got)
	}
	// Same name returns same vector
	if c2 := r.Counter("test_total", "", "label"); c2 != c {
		t.Fatal("expected same counter instance")
	}
}

func TestGauge(t *testing.T) {
	r := NewBare()
	g := r.Gauge("test_gauge", "A test gauge")
	g.WithLabelValues().Set(42)
	g.WithLabelValues().Inc()
	g.WithLabelValues().Dec()
	g.WithLabelValues().Inc()
	if got := testutil.ToFloat64(g.WithLabelValues()); got != 43 {
		t.Fatalf("expected 43, got %v", got)
	}
}

func TestHistogram(t *testing.T) {
	r := NewBare()
	h := r.Histogram("test_duration_seconds", "A test histogram", []float64{0.1, 0.5, 1.0}, "stage")
	for _, v := range []float64{0.05, 0.3, 0.8, 2.0} {
		h.WithLabelValues("decode").Observe(v)
	}
	Since(h.WithLabelValues("write"), time.Now().Add(-10*time.Millisecond))

	if n := testutil.CollectAndCount(h); n != 2 {
		t.Fatalf("expected 2 series, got %d", n)
	}
}

func TestHandler(t *testing.T) {
	r := NewBare()
	r.Counter("claimgraph_records_total", "Records processed", "outcome").WithLabelValues("imported").Add(3)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `claimgraph_records_total{outcome="imported"} 3`) {
		t.Fatalf("unexpected exposition:\n%s", body)
	}
	if !strings.Contains(string(body), "# HELP claimgraph_records_total Records processed") {
		t.Fatalf("missing help line:\n%s", body)
	}
}

func TestNewRegistersRuntimeCollectors(t *testing.T) {
	r := New()
	mfs, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "go_goroutines" {
			found = true
		}
	}
	if !found {
		t.Fatal("go collector not registered")
	}
}
