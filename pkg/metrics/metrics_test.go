package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_ops_total", "test ops")
	c.Inc(Labels{"op": "move"})
	c.Inc(Labels{"op": "move"})
	c.Add(Labels{"op": "stop"}, 5)

	if got := c.Get(Labels{"op": "move"}); got != 2 {
		t.Errorf("move = %d, want 2", got)
	}
	if got := c.Get(Labels{"op": "stop"}); got != 5 {
		t.Errorf("stop = %d, want 5", got)
	}
	if got := c.Get(Labels{"op": "absent"}); got != 0 {
		t.Errorf("absent = %d, want 0", got)
	}

	var sb strings.Builder
	c.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		"# TYPE test_ops_total counter",
		`test_ops_total{op="move"} 2`,
		`test_ops_total{op="stop"} 5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_clients", "test clients")
	g.Set(nil, 3)
	g.Inc(nil)
	g.Dec(nil)
	g.Dec(nil)
	if got := g.Get(nil); got != 2 {
		t.Errorf("value = %g, want 2", got)
	}

	var sb strings.Builder
	g.Write(&sb)
	if !strings.Contains(sb.String(), "test_clients 2\n") {
		t.Errorf("output:\n%s", sb.String())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_seconds", "test", []float64{0.1, 1, 10})
	h.Observe(nil, 0.05)
	h.Observe(nil, 0.5)
	h.Observe(nil, 100)

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		`test_seconds_bucket{le="0.1"} 1`,
		`test_seconds_bucket{le="1"} 2`,
		`test_seconds_bucket{le="10"} 2`,
		`test_seconds_bucket{le="+Inf"} 3`,
		"test_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("a", "")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(NewCounter("a", "")); err == nil {
		t.Fatal("duplicate register succeeded")
	}
}

func TestRegistryGatherOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCounter("zzz_total", "late name, registered first"))
	r.MustRegister(NewCounter("aaa_total", "early name, registered second"))

	out := r.Gather()
	if strings.Index(out, "zzz_total") > strings.Index(out, "aaa_total") {
		t.Errorf("registration order not preserved:\n%s", out)
	}
}

func TestSetHandler(t *testing.T) {
	s := NewSet()
	s.CommandsTotal.Inc(Labels{"op": "motor_move"})
	s.WSClients.Set(nil, 2)

	rec := httptest.NewRecorder()
	s.Registry().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`knitterd_commands_total{op="motor_move"} 1`,
		"knitterd_ws_clients 2",
		"# TYPE knitterd_loop_ticks_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}
