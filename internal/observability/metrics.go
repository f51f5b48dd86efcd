package observability

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run results recorded by ObserveRun.
const (
	ResultOK        = "ok"
	ResultRetrieval = "retrieval"
	ResultCatalog   = "catalog"
	ResultFit       = "fit"
	ResultWrite     = "write"
	ResultOther     = "other"
)

// PipelineCollector bundles the Prometheus metrics of a fitting run. A nil
// collector records nothing.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	Runs           *prometheus.CounterVec
	StageDurations *prometheus.HistogramVec
	CacheRequests  *prometheus.CounterVec

	QuadrantsLoaded prometheus.Gauge
	StarsLoaded     prometheus.Gauge
	ResidualRMS     *prometheus.GaugeVec
	Outliers        *prometheus.GaugeVec
	RefineSteps     prometheus.Gauge
	HeadersWritten  prometheus.Counter
}

// NewPipelineCollector registers the pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	runs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mosaicfit_runs_total",
		Help: "Completed fitting runs, labeled by result.",
	}, []string{"result"}), "mosaicfit_runs_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mosaicfit_stage_duration_seconds",
		Help:    "Duration of each pipeline stage in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"stage"}), "mosaicfit_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	cache, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mosaicfit_cache_requests_total",
		Help: "Retrieval cache lookups, labeled by hit or miss.",
	}, []string{"result"}), "mosaicfit_cache_requests_total")
	if err != nil {
		return nil, err
	}

	quadrants, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mosaicfit_quadrants_loaded",
		Help: "Number of quadrant catalogs loaded in the last run.",
	}), "mosaicfit_quadrants_loaded")
	if err != nil {
		return nil, err
	}
	stars, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mosaicfit_stars_loaded",
		Help: "Number of catalog stars loaded in the last run.",
	}), "mosaicfit_stars_loaded")
	if err != nil {
		return nil, err
	}

	rms, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mosaicfit_residual_rms_degrees",
		Help: "Residual RMS of a fit stage in projection units, labeled by stage and axis.",
	}, []string{"stage", "axis"}), "mosaicfit_residual_rms_degrees")
	if err != nil {
		return nil, err
	}
	outliers, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mosaicfit_residual_outliers",
		Help: "Residuals beyond the outlier threshold, labeled by stage and axis.",
	}, []string{"stage", "axis"}), "mosaicfit_residual_outliers")
	if err != nil {
		return nil, err
	}

	steps, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mosaicfit_refine_iterations",
		Help: "Accepted refinement steps in the last run.",
	}), "mosaicfit_refine_iterations")
	if err != nil {
		return nil, err
	}
	headers, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mosaicfit_headers_written_total",
		Help: "Header files written.",
	}), "mosaicfit_headers_written_total")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:        gatherer,
		Runs:            runs,
		StageDurations:  durations,
		CacheRequests:   cache,
		QuadrantsLoaded: quadrants,
		StarsLoaded:     stars,
		ResidualRMS:     rms,
		Outliers:        outliers,
		RefineSteps:     steps,
		HeadersWritten:  headers,
	}, nil
}

// ObserveStage records how long a pipeline stage took.
func (c *PipelineCollector) ObserveStage(stage string, d time.Duration) {
	if c == nil || c.StageDurations == nil {
		return
	}
	c.StageDurations.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRun counts a finished run.
func (c *PipelineCollector) ObserveRun(result string) {
	if c == nil || c.Runs == nil {
		return
	}
	c.Runs.WithLabelValues(result).Inc()
}

// CacheHit satisfies fetch.CacheRecorder.
func (c *PipelineCollector) CacheHit() {
	if c == nil || c.CacheRequests == nil {
		return
	}
	c.CacheRequests.WithLabelValues("hit").Inc()
}

// CacheMiss satisfies fetch.CacheRecorder.
func (c *PipelineCollector) CacheMiss() {
	if c == nil || c.CacheRequests == nil {
		return
	}
	c.CacheRequests.WithLabelValues("miss").Inc()
}

// SetLoaded records the size of the loaded dataset.
func (c *PipelineCollector) SetLoaded(quadrants, stars int) {
	if c == nil {
		return
	}
	if c.QuadrantsLoaded != nil {
		c.QuadrantsLoaded.Set(float64(quadrants))
	}
	if c.StarsLoaded != nil {
		c.StarsLoaded.Set(float64(stars))
	}
}

// SetResiduals records residual RMS and outlier counts of one axis of a stage.
func (c *PipelineCollector) SetResiduals(stage, axis string, rms float64, outliers int) {
	if c == nil {
		return
	}
	if c.ResidualRMS != nil {
		c.ResidualRMS.WithLabelValues(stage, axis).Set(rms)
	}
	if c.Outliers != nil {
		c.Outliers.WithLabelValues(stage, axis).Set(float64(outliers))
	}
}

// SetRefineSteps records the number of accepted refinement steps.
func (c *PipelineCollector) SetRefineSteps(n int) {
	if c == nil || c.RefineSteps == nil {
		return
	}
	c.RefineSteps.Set(float64(n))
}

// HeaderWritten counts one written header file.
func (c *PipelineCollector) HeaderWritten() {
	if c == nil || c.HeadersWritten == nil {
		return
	}
	c.HeadersWritten.Inc()
}

// WriteTextfile writes every gathered metric to path in the Prometheus text
// format, for pickup by a node exporter textfile collector.
func (c *PipelineCollector) WriteTextfile(path string) error {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// register adds c to reg, returning the collector already registered under
// the same descriptor when there is one of the same type.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var zero T
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return zero, err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return existing, nil
}
