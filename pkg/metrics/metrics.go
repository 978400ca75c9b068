// Package metrics exposes Prometheus collectors for the crawl loop.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vkharvest/pkg/logger"
)

// Recorder owns the harvester's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	pages             *prometheus.CounterVec
	records           *prometheus.CounterVec
	skipped           *prometheus.CounterVec
	apiErrors         *prometheus.CounterVec
	transportFailures *prometheus.CounterVec
	malformed         *prometheus.CounterVec
	sleeps            *prometheus.HistogramVec
	offsets           *prometheus.GaugeVec
	challenges        prometheus.Counter
	requestInterval   prometheus.Gauge
}

// New creates a Recorder backed by its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkharvest_pages_total",
			Help: "Wall pages fetched successfully, labeled by source.",
		}, []string{"source"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkharvest_records_written_total",
			Help: "Rows appended to the output files, labeled by kind.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkharvest_records_skipped_total",
			Help: "Items not written, labeled by kind and reason.",
		}, []string{"kind", "reason"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkharvest_api_errors_total",
			Help: "API error envelopes received, labeled by error code.",
		}, []string{"code"}),
		transportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkharvest_transport_failures_total",
			Help: "Requests that failed before an API answer was decoded.",
		}, []string{"method"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkharvest_malformed_responses_total",
			Help: "Success envelopes missing the expected payload.",
		}, []string{"method"}),
		sleeps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vkharvest_sleep_seconds",
			Help:    "Pauses taken by the crawl loop, labeled by reason.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"reason"}),
		offsets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vkharvest_source_offset",
			Help: "Current wall offset per source.",
		}, []string{"source"}),
		challenges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkharvest_challenges_total",
			Help: "Captcha challenges issued by the API.",
		}),
		requestInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vkharvest_request_sleep_interval_seconds",
			Help: "Current pause taken after each burst of requests.",
		}),
	}

	reg.MustRegister(
		r.pages,
		r.records,
		r.skipped,
		r.apiErrors,
		r.transportFailures,
		r.malformed,
		r.sleeps,
		r.offsets,
		r.challenges,
		r.requestInterval,
	)
	return r
}

// Registry returns the registry the collectors are registered on
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObservePage counts a successful wall page and records the new offset
func (r *Recorder) ObservePage(source string, offset int) {
	if r == nil {
		return
	}
	r.pages.WithLabelValues(source).Inc()
	r.offsets.WithLabelValues(source).Set(float64(offset))
}

// SetOffset records a source offset without counting a page
func (r *Recorder) SetOffset(source string, offset int) {
	if r == nil {
		return
	}
	r.offsets.WithLabelValues(source).Set(float64(offset))
}

// RecordsWritten adds n appended rows of kind ("profile" or "post")
func (r *Recorder) RecordsWritten(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.records.WithLabelValues(kind).Add(float64(n))
}

// RecordSkipped counts an item dropped for reason ("seen" or "empty")
func (r *Recorder) RecordSkipped(kind, reason string) {
	if r == nil {
		return
	}
	r.skipped.WithLabelValues(kind, reason).Inc()
}

// APIError counts an error envelope
func (r *Recorder) APIError(code int) {
	if r == nil {
		return
	}
	r.apiErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// TransportFailure counts a failed request
func (r *Recorder) TransportFailure(method string) {
	if r == nil {
		return
	}
	r.transportFailures.WithLabelValues(method).Inc()
}

// Malformed counts a success envelope without payload
func (r *Recorder) Malformed(method string) {
	if r == nil {
		return
	}
	r.malformed.WithLabelValues(method).Inc()
}

// Sleep records a pause of d taken for reason
func (r *Recorder) Sleep(reason string, d time.Duration) {
	if r == nil {
		return
	}
	r.sleeps.WithLabelValues(reason).Observe(d.Seconds())
}

// Challenge counts a captcha challenge
func (r *Recorder) Challenge() {
	if r == nil {
		return
	}
	r.challenges.Inc()
}

// SetRequestInterval records the current burst pause
func (r *Recorder) SetRequestInterval(d time.Duration) {
	if r == nil {
		return
	}
	r.requestInterval.Set(d.Seconds())
}

// Handler returns an http.Handler exposing the recorder's registry
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is done
func (r *Recorder) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoWithFields("metrics listener started", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Debug("metrics listener stopped")
		return nil
	}
}
