package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("leo")
	r.Counter("steps_consumed_total", "Steps", Labels{"kind": "char"}).Add(3)
	r.Counter("steps_consumed_total", "Steps", Labels{"kind": "block"}).Inc()
	r.GaugeFunc("students", "Connected students", func() int64 { return 7 })
	h := r.Histogram("gap_seconds", "Gaps", nil, []float64{1, 0.5})
	h.Observe(0.25)
	h.Observe(0.5)
	h.Observe(3)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	assert.Equal(t, `# HELP leo_steps_consumed_total Steps
# TYPE leo_steps_consumed_total counter
leo_steps_consumed_total{kind="block"} 1
leo_steps_consumed_total{kind="char"} 3
# HELP leo_students Connected students
# TYPE leo_students gauge
leo_students 7
# HELP leo_gap_seconds Gaps
# TYPE leo_gap_seconds histogram
leo_gap_seconds_bucket{le="0.5"} 2
leo_gap_seconds_bucket{le="1"} 2
leo_gap_seconds_bucket{le="+Inf"} 3
leo_gap_seconds_sum 3.75
leo_gap_seconds_count 3
`, buf.String())
}

func TestRegistryReturnsExisting(t *testing.T) {
	r := NewRegistry("")
	a := r.Counter("x", "", nil)
	b := r.Counter("x", "", nil)
	assert.Same(t, a, b)
	assert.NotSame(t, a, r.Counter("x", "", Labels{"k": "v"}))
}

func TestPresenterMetricsCadence(t *testing.T) {
	m := NewPresenterMetrics(nil)
	now := time.Unix(100, 0)
	m.now = func() time.Time { return now }

	m.RecordStep(false)
	now = now.Add(500 * time.Millisecond)
	m.RecordStep(false)
	now = now.Add(2 * time.Second)
	m.RecordStep(true)

	assert.Equal(t, uint64(2), m.CharsTyped.Value())
	assert.Equal(t, uint64(1), m.BlocksConsumed.Value())
	assert.Equal(t, uint64(2), m.KeyPressInterval.Count())
	assert.InDelta(t, 1.25, m.KeyPressInterval.Mean(), 1e-9)

	m.ResetCadence()
	now = now.Add(time.Hour)
	m.RecordStep(false)
	assert.Equal(t, uint64(2), m.KeyPressInterval.Count())
}

func TestHTTPHandlerJSON(t *testing.T) {
	m := NewPresenterMetrics(nil)
	m.RecordCursor(4, 10)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	m.Registry().HTTPHandler().ServeHTTP(rec, req)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, float64(4), snap["leo_cursor_index"])
	assert.Equal(t, float64(10), snap["leo_cursor_total"])
}
