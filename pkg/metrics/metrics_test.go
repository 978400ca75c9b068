package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.ObservePage("durov", 100)
	r.ObservePage("durov", 200)
	r.ObservePage("team", 50)
	r.RecordsWritten("post", 7)
	r.RecordsWritten("post", 0)
	r.RecordsWritten("profile", 2)
	r.RecordSkipped("post", "seen")
	r.APIError(29)
	r.APIError(29)
	r.APIError(6)
	r.TransportFailure("wall.get")
	r.Malformed("wall.get")
	r.Challenge()
	r.SetRequestInterval(2 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.pages.WithLabelValues("durov")))
	assert.Equal(t, 200.0, testutil.ToFloat64(r.offsets.WithLabelValues("durov")))
	assert.Equal(t, 50.0, testutil.ToFloat64(r.offsets.WithLabelValues("team")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.records.WithLabelValues("post")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.records.WithLabelValues("profile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.skipped.WithLabelValues("post", "seen")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.apiErrors.WithLabelValues("29")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.apiErrors.WithLabelValues("6")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transportFailures.WithLabelValues("wall.get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.malformed.WithLabelValues("wall.get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.challenges))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.requestInterval))
}

func TestRecorder_Sleep(t *testing.T) {
	r := New()
	r.Sleep("rate_limit", 300*time.Second)
	r.Sleep("burst", time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(r.sleeps))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.ObservePage("durov", 1)
		r.SetOffset("durov", 1)
		r.RecordsWritten("post", 1)
		r.RecordSkipped("post", "empty")
		r.APIError(1)
		r.TransportFailure("wall.get")
		r.Malformed("wall.get")
		r.Sleep("burst", time.Second)
		r.Challenge()
		r.SetRequestInterval(time.Second)
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.RecordsWritten("post", 3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `vkharvest_records_written_total{kind="post"} 3`), body)
	assert.Contains(t, body, "go_goroutines")
}
