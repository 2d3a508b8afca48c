package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndTextfile(t *testing.T) {
	m := New()
	m.CacheResult("spans", "miss")
	m.CacheResult("spans", "hit")
	m.CacheResult("spans", "hit")
	m.FeatureFailure("has_email")
	m.StepRows("thankees", "populate", 42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues("spans", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.featureFailures.WithLabelValues("has_email")))

	path := filepath.Join(t.TempDir(), "gratsample.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `gratsample_step_rows{dataset="thankees",step="populate"} 42`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CacheResult("spans", "hit")
	m.FeatureFailure("x")
	m.StepRows("d", "s", 1)
	m.APIRequest("ores", "ok")
	assert.NoError(t, m.WriteTextfile("/nonexistent/x.prom"))
	assert.Nil(t, m.Registry())
}
