package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSync(t *testing.T) {
	c := New(nil)
	c.ObserveSync(3, time.Millisecond)
	c.ObserveSync(2, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.CameraSyncs))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.Reprojected))
}

func TestObserveSave(t *testing.T) {
	c := New(nil)
	c.ObserveSave(4, 1)

	assert.Equal(t, 4.0, testutil.ToFloat64(c.SavedItems.WithLabelValues(OutcomeSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SavedItems.WithLabelValues(OutcomeFailed)))
}

func TestSetAnnotations(t *testing.T) {
	c := New(nil)
	c.SetAnnotations(map[string]int{"ai": 3, "manual": 1})
	c.SetAnnotations(map[string]int{"ai": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Annotations.WithLabelValues("ai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Annotations.WithLabelValues("manual")))
}

func TestRegistersWithGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveHTTP("/api/annotations", time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "overlay_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveSync(1, time.Second)
		c.ObserveSave(1, 1)
		c.SetAnnotations(map[string]int{"ai": 1})
		c.ObserveHTTP("/", time.Second)
	})
}
