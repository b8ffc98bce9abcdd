package metrics

import (
	"testing"
	"time"
)

func newTestCollector(refresh time.Duration) (*SystemCollector, *time.Time, *int) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	samples := 0
	c := NewSystemCollector(refresh)
	c.now = func() time.Time { return now }
	c.sample = func() map[string]interface{} {
		samples++
		return map[string]interface{}{"cpu_usage_percent": float64(samples)}
	}
	return c, &now, &samples
}

func TestCurrentCachesSamples(t *testing.T) {
	c, now, samples := newTestCollector(5 * time.Second)

	first := c.Current()
	if *samples != 1 {
		t.Fatalf("expected 1 sample, got %d", *samples)
	}

	*now = now.Add(2 * time.Second)
	second := c.Current()
	if *samples != 1 {
		t.Errorf("cached window must not re-sample, got %d samples", *samples)
	}
	if first["cpu_usage_percent"] != second["cpu_usage_percent"] {
		t.Error("cached values must be stable inside the window")
	}

	*now = now.Add(4 * time.Second)
	third := c.Current()
	if *samples != 2 {
		t.Errorf("expired window must re-sample, got %d samples", *samples)
	}
	if third["cpu_usage_percent"] != 2.0 {
		t.Errorf("expected refreshed sample, got %v", third["cpu_usage_percent"])
	}
}

func TestRecordActivity(t *testing.T) {
	c, _, _ := newTestCollector(time.Minute)

	c.RecordActivity("user_connected", 1)
	c.RecordActivity("user_connected", 2)
	c.RecordActivity("user_disconnected", 1)

	m := c.Current()
	if m["user_connected_count"] != int64(2) {
		t.Errorf("expected 2 connects, got %v", m["user_connected_count"])
	}
	if m["user_disconnected_count"] != int64(1) {
		t.Errorf("expected 1 disconnect, got %v", m["user_disconnected_count"])
	}
	if m["active_users"] != 1 {
		t.Errorf("expected 1 active user, got %v", m["active_users"])
	}
}

func TestCurrentReturnsACopy(t *testing.T) {
	c, _, _ := newTestCollector(time.Minute)

	m := c.Current()
	m["cpu_usage_percent"] = -1.0

	if c.Current()["cpu_usage_percent"] == -1.0 {
		t.Error("mutating a snapshot must not affect the cache")
	}
}

func TestSystemSampleSmoke(t *testing.T) {
	c := NewSystemCollector(time.Minute)
	m := c.Current()
	// Host metrics vary; just verify the collector produces a usable map.
	if m == nil {
		t.Fatal("expected a metrics map")
	}
	if _, ok := m["active_users"]; !ok {
		t.Error("expected active_users key")
	}
}
