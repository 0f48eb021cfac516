package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Recorder collects counters for one seeding process. Each Recorder owns its
// registry so tests and repeated runs never collide on registration.
type Recorder struct {
	registry *prometheus.Registry

	rowsInserted  *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	existingApps  *prometheus.GaugeVec
	runs          *prometheus.CounterVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rowsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scaleprep",
				Name:      "rows_inserted_total",
				Help:      "Number of synthetic rows written, by table.",
			},
			[]string{"app_type", "table"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scaleprep",
				Name:      "batches_total",
				Help:      "Number of insert batches executed, by table.",
			},
			[]string{"app_type", "table"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scaleprep",
				Name:      "batch_duration_seconds",
				Help:      "Histogram of insert batch durations in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"app_type", "table"},
		),
		existingApps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "scaleprep",
				Name:      "existing_apps",
				Help:      "Event instances with event_type SU for the app type, as last counted.",
			},
			[]string{"app_type"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scaleprep",
				Name:      "runs_total",
				Help:      "Seeding runs by outcome.",
			},
			[]string{"app_type", "result"},
		),
	}
	r.registry.MustRegister(r.rowsInserted, r.batches, r.batchDuration, r.existingApps, r.runs)
	return r
}

// ObserveBatch records one insert batch of a committed transaction.
func (r *Recorder) ObserveBatch(appType, table string, rows int, took time.Duration) {
	if r == nil {
		return
	}
	r.rowsInserted.WithLabelValues(appType, table).Add(float64(rows))
	r.batches.WithLabelValues(appType, table).Inc()
	r.batchDuration.WithLabelValues(appType, table).Observe(took.Seconds())
}

// SetExistingApps records the latest stat count.
func (r *Recorder) SetExistingApps(appType string, n int64) {
	if r == nil {
		return
	}
	r.existingApps.WithLabelValues(appType).Set(float64(n))
}

// RecordRun counts one finished run as success or failure.
func (r *Recorder) RecordRun(appType string, ok bool) {
	if r == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	r.runs.WithLabelValues(appType, result).Inc()
}

// WriteTextfile writes the samples labelled with appType to path in the
// Prometheus text format, for node_exporter's textfile collector. Families
// without an app_type label are written unfiltered. The file is replaced
// atomically.
func (r *Recorder) WriteTextfile(path, appType string) error {
	metricFamilies, err := r.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}

	filtered := filterByLabel(metricFamilies, "app_type", appType)

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range filtered {
		if err := encoder.Encode(mf); err != nil {
			return errors.Wrapf(err, "encode %s", mf.GetName())
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create metrics temp file")
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod metrics temp file")
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write metrics")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close metrics temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "replace %s", path)
	}
	return nil
}

// filterByLabel keeps the samples whose label name equals value. A family
// where no sample carries the label is kept whole; a family left without
// samples is dropped.
func filterByLabel(families []*dto.MetricFamily, name, value string) []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(families))
	for _, mf := range families {
		labelled := false
		var kept []*dto.Metric
		for _, m := range mf.GetMetric() {
			v, ok := labelValue(m, name)
			labelled = labelled || ok
			if ok && v == value {
				kept = append(kept, m)
			}
		}

		switch {
		case !labelled:
			out = append(out, mf)
		case len(kept) > 0:
			out = append(out, &dto.MetricFamily{Name: mf.Name, Help: mf.Help, Type: mf.Type, Metric: kept})
		}
	}
	return out
}

func labelValue(m *dto.Metric, name string) (string, bool) {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue(), true
		}
	}
	return "", false
}
