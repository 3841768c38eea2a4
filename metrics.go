package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"golang.org/x/xerrors"
)

// RunMetrics records pipeline runs on a private Prometheus registry.
type RunMetrics struct {
	gatewayURL string
	job        string
	reg        *prometheus.Registry

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.SummaryVec
	runTotal      *prometheus.CounterVec
	rowsLoaded    prometheus.Gauge
	totalEvents   prometheus.Gauge
	uniqueUsers   prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// NewRunMetrics builds the run metrics. When gatewayURL is not empty they are
// pushed to that Pushgateway under job after every run.
func NewRunMetrics(gatewayURL, job string) *RunMetrics {
	m := &RunMetrics{
		gatewayURL: gatewayURL,
		job:        job,
		reg:        prometheus.NewRegistry(),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "stage_total",
			Help:      "Number of stage executions by stage and status.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  "pipeline",
			Name:       "stage_duration_seconds",
			Help:       "Duration of stages in seconds by stage and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"stage", "status"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "run_total",
			Help:      "Number of runs by status.",
		}, []string{"status"}),
		rowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipeline",
			Name:      "rows_loaded",
			Help:      "Rows in the destination table after the last load.",
		}),
		totalEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipeline",
			Name:      "quality_total_events",
			Help:      "Total events reported by the last quality check.",
		}),
		uniqueUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipeline",
			Name:      "quality_unique_users",
			Help:      "Distinct users reported by the last quality check.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful run.",
		}),
	}

	m.reg.MustRegister(
		m.stageTotal, m.stageDuration, m.runTotal,
		m.rowsLoaded, m.totalEvents, m.uniqueUsers, m.lastSuccess,
	)

	return m
}

func (m *RunMetrics) observeStage(stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *RunMetrics) observeRun(r *Report) {
	m.runTotal.WithLabelValues(string(r.Status)).Inc()

	if r.Load != nil {
		m.rowsLoaded.Set(float64(r.Load.Rows))
	}
	if r.Quality != nil {
		m.totalEvents.Set(float64(r.Quality.TotalEvents))
		m.uniqueUsers.Set(float64(r.Quality.UniqueUsers))
	}
	if r.Status == StatusSucceeded {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}

// Push sends the metrics to the Pushgateway, if one is configured.
func (m *RunMetrics) Push(ctx context.Context) error {
	if m.gatewayURL == "" {
		return nil
	}

	if err := push.New(m.gatewayURL, m.job).Gatherer(m.reg).PushContext(ctx); err != nil {
		return xerrors.Errorf("failed to push metrics to %s: %w", m.gatewayURL, err)
	}

	return nil
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *RunMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
