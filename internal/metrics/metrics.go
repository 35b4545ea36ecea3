// Package metrics exposes run and stage metrics in Prometheus format. The
// collector doubles as a runner.Recorder; batch runs write the registry to a
// node_exporter textfile.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"github.com/sells-group/climate-pipeline/internal/combine"
	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/runner"
	"github.com/sells-group/climate-pipeline/internal/schema"
)

// Collector holds the pipeline metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	stagesTotal    *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageRetries   *prometheus.CounterVec
	rowsTotal      *prometheus.CounterVec
	joinDropped    *prometheus.CounterVec
	runDuration    *prometheus.GaugeVec
	runLastSuccess *prometheus.GaugeVec
}

// New registers every metric on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		stagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "climate_stage_runs_total",
			Help: "Stages that reached a terminal state, by kind and state",
		}, []string{"kind", "state"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "climate_stage_duration_seconds",
			Help:    "Wall time of executed stages including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5min
		}, []string{"kind"}),
		stageRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "climate_stage_retries_total",
			Help: "Attempts beyond the first, by kind",
		}, []string{"kind"}),
		rowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "climate_rows_written_total",
			Help: "Rows written by stages that report a row count",
		}, []string{"kind"}),
		joinDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "climate_join_rows_dropped_total",
			Help: "Rows without a partner in the other source, dropped by the inner join",
		}, []string{"source", "year"}),
		runDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climate_run_duration_seconds",
			Help: "Duration of the most recent run",
		}, []string{"pipeline", "status"}),
		runLastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climate_run_last_success_timestamp_seconds",
			Help: "Unix time of the last run whose final stages succeeded",
		}, []string{"pipeline"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) StageStarted(context.Context, *graph.StageNode) {}

func (c *Collector) StageFinished(_ context.Context, n *graph.StageNode, out runner.Outcome) {
	kind := string(n.Kind)
	c.stagesTotal.WithLabelValues(kind, string(out.State)).Inc()
	if out.Attempts > 0 {
		c.stageDuration.WithLabelValues(kind).Observe(out.Duration.Seconds())
	}
	if out.Attempts > 1 {
		c.stageRetries.WithLabelValues(kind).Add(float64(out.Attempts - 1))
	}
	if rows, ok := intValue(out.Metadata, "rows"); ok {
		c.rowsTotal.WithLabelValues(kind).Add(float64(rows))
	}
	if joins, ok := out.Metadata["joins"].(map[int]combine.Stats); ok {
		for y, st := range joins {
			year := strconv.Itoa(y)
			c.joinDropped.WithLabelValues(string(schema.WorldBank), year).Add(float64(st.DroppedA))
			c.joinDropped.WithLabelValues(string(schema.ClimateTrace), year).Add(float64(st.DroppedB))
		}
	}
}

func (c *Collector) StageSkipped(_ context.Context, n *graph.StageNode, _ string) {
	c.stagesTotal.WithLabelValues(string(n.Kind), string(graph.StateUpstreamFailed)).Inc()
}

// ObserveRun records the run-level gauges of a finished run.
func (c *Collector) ObserveRun(pipeline string, sum *runner.Summary, finished time.Time) {
	c.runDuration.WithLabelValues(pipeline, string(sum.Status)).Set(sum.Elapsed.Seconds())
	if sum.Status != model.RunStatusFailed {
		c.runLastSuccess.WithLabelValues(pipeline).Set(float64(finished.Unix()))
	}
}

// WriteTextfile writes the registry in text exposition format to path.
func (c *Collector) WriteTextfile(path string) error {
	return eris.Wrapf(prometheus.WriteToTextfile(path, c.registry), "metrics: write %s", path)
}

func intValue(meta map[string]any, key string) (int64, bool) {
	switch v := meta[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
