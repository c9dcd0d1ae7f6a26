package observability

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReturnsSameInstruments(t *testing.T) {
	r := NewMetricsRegistry()

	r.Counter("a").Inc()
	r.Counter("a").Add(2)
	r.Gauge("g").Set(5)
	r.Gauge("g").Dec()
	r.Histogram("h").Observe(2)
	r.Histogram("h").Observe(4)

	s := r.Snapshot()
	assert.Equal(t, int64(3), s.Counters["a"])
	assert.Equal(t, int64(4), s.Gauges["g"])
	assert.Equal(t, HistogramSnapshot{Count: 2, Sum: 6, Avg: 3, Min: 2, Max: 4}, s.Histograms["h"])
	assert.Equal(t, []string{"a", "g", "h"}, r.Names())
}

func TestCounterConcurrentUse(t *testing.T) {
	r := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Counter(Name(MetricRemoteCalls, "get_repo")).Inc()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), r.Counter("remote.calls{get_repo}").Value())
}

func TestTimerObserves(t *testing.T) {
	r := NewMetricsRegistry()
	r.StartTimer("t").Stop()
	assert.Equal(t, int64(1), r.Snapshot().Histograms["t"].Count)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)

	Component(logger, "pipeline").Debug("resolved", FieldStage, "distgit")
	assert.Contains(t, buf.String(), `"component":"pipeline"`)
	assert.Contains(t, buf.String(), `"stage":"distgit"`)

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}
