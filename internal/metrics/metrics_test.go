package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("get_one", OutcomeOK, 0.1)
		m.CacheHit()
		m.CacheMiss()
		m.CoalescedRequest()
		m.ObserveBatch(3)
		m.SessionOpened()
		m.SessionClosed()
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveFetch("get_many", OutcomeOK, 0.01)
	m.ObserveFetch("get_many", OutcomeOK, 0.02)
	m.ObserveFetch("get_list", OutcomeError, 0.5)
	m.CacheHit()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fetches.WithLabelValues("get_many", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fetches.WithLabelValues("get_list", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveSessions))
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheMiss()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "refkit_record_cache_misses_total 1")
}
