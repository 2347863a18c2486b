// Package metrics holds the Prometheus instruments for the memory subsystem.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crew_memory"

// Metrics groups every instrument the subsystem updates.
type Metrics struct {
	entriesStored   *prometheus.CounterVec
	recalls         prometheus.Counter
	reinforced      prometheus.Counter
	archived        *prometheus.CounterVec
	evicted         prometheus.Counter
	merges          *prometheus.CounterVec
	extractions     *prometheus.CounterVec
	maintenanceRuns *prometheus.CounterVec
	flushErrors     prometheus.Counter
	indexEntries    prometheus.Gauge
}

// New registers the instruments with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		entriesStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_stored_total",
			Help:      "Memory entries stored, by type.",
		}, []string{"type"}),
		recalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalls_total",
			Help:      "Recall requests served.",
		}),
		reinforced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinforced_total",
			Help:      "Entries reinforced by retrieval or explicit action.",
		}),
		archived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_total",
			Help:      "Entries archived, by reason.",
		}, []string{"reason"}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_total",
			Help:      "Entries evicted from full shards.",
		}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Similarity merge attempts, by status.",
		}, []string{"status"}),
		extractions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction dispatches, by status.",
		}, []string{"status"}),
		maintenanceRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance stage runs, by stage and status.",
		}, []string{"stage", "status"}),
		flushErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_errors_total",
			Help:      "Failed shard or index writes.",
		}),
		indexEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_entries",
			Help:      "Entries currently held in the in-memory index.",
		}),
	}
}

func (m *Metrics) EntryStored(typ string) {
	if m != nil {
		m.entriesStored.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) Recall() {
	if m != nil {
		m.recalls.Inc()
	}
}

func (m *Metrics) Reinforced(n int) {
	if m != nil {
		m.reinforced.Add(float64(n))
	}
}

func (m *Metrics) Archived(reason string, n int) {
	if m != nil {
		m.archived.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) Evicted(n int) {
	if m != nil {
		m.evicted.Add(float64(n))
	}
}

func (m *Metrics) Merge(status string) {
	if m != nil {
		m.merges.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Extraction(status string) {
	if m != nil {
		m.extractions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) MaintenanceStage(stage string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.maintenanceRuns.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) FlushError() {
	if m != nil {
		m.flushErrors.Inc()
	}
}

func (m *Metrics) IndexSize(n int) {
	if m != nil {
		m.indexEntries.Set(float64(n))
	}
}
