package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestCollector_ForecastCounters(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.RecordForecastDay("matched", 1)
	c.RecordForecastDay("matched", 2)
	c.RecordForecastDay("empty", 8)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ForecastDaysTotal.WithLabelValues("matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ForecastDaysTotal.WithLabelValues("empty")))

	var m dto.Metric
	assert.NoError(t, c.MatcherIterations.Write(&m))
	assert.Equal(t, uint64(3), m.GetHistogram().GetSampleCount())
	assert.Equal(t, 11.0, m.GetHistogram().GetSampleSum())
}

func TestCollector_CacheObserver(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.CacheHit()
	c.CacheMiss()
	c.CacheMiss()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.CacheLookupsTotal.WithLabelValues("miss")))
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors with the same namespace must not collide on distinct registries.
	assert.NotPanics(t, func() {
		NewCollector("dup", prometheus.NewRegistry())
		NewCollector("dup", prometheus.NewRegistry())
	})
}

func TestCollector_DBPool(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())
	c.UpdateDBConnectionPool(3, 2, 5)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.DBConnectionPool.WithLabelValues("in_use")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.DBConnectionPool.WithLabelValues("total")))
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())
	timer := c.NewTimer(c.RolloutDuration)
	d := timer.ObserveDuration()

	assert.GreaterOrEqual(t, int64(d), int64(0))
	assert.Equal(t, 1, testutil.CollectAndCount(c.RolloutDuration))
}
