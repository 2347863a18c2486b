package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rcliao/crew-memory/internal/decay"
	"github.com/rcliao/crew-memory/internal/summarizer"
)

// Maintenance stages, in execution order.
const (
	StageDecay   = "decay"
	StageArchive = "short_term_archive"
	StageMerge   = "merge"
)

// StageFailure records a maintenance stage that returned an error.
type StageFailure struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// MaintenanceReport is the outcome of one maintenance pass.
type MaintenanceReport struct {
	StartedAt         time.Time              `json:"startedAt"`
	Duration          time.Duration          `json:"duration"`
	Decay             decay.Result           `json:"decay"`
	ShortTermArchived int                    `json:"shortTermArchived"`
	Merge             summarizer.MergeReport `json:"merge"`
	Failures          []StageFailure         `json:"failures,omitempty"`
}

// Err joins the stage failures, or returns nil when every stage succeeded.
func (r MaintenanceReport) Err() error {
	var errs []error
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %s", f.Stage, f.Error))
	}
	return errors.Join(errs...)
}

// RunMaintenance runs decay, short-term archival and similarity merge in
// that order. A failing stage does not stop the ones after it. Concurrent
// callers share a single pass.
func (m *Manager) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	v, _, _ := m.maint.Do("maintenance", func() (any, error) {
		return m.runMaintenance(ctx), nil
	})
	rep := v.(MaintenanceReport)
	return rep, rep.Err()
}

func (m *Manager) runMaintenance(ctx context.Context) MaintenanceReport {
	m.tenant.RLock()
	defer m.tenant.RUnlock()

	start := time.Now()
	rep := MaintenanceReport{StartedAt: m.opts.Now()}

	stage := func(name string, fn func() error) {
		err := fn()
		m.metrics.MaintenanceStage(name, err)
		if err != nil {
			rep.Failures = append(rep.Failures, StageFailure{Stage: name, Error: err.Error()})
			m.log.Error("maintenance stage failed", "stage", name, "error", err)
		}
	}

	stage(StageDecay, func() error {
		res, err := m.decay.RunDecay()
		rep.Decay = res
		return err
	})
	stage(StageArchive, func() error {
		n, err := m.summarizer.ArchiveExpiredShortTerm()
		rep.ShortTermArchived = n
		return err
	})
	stage(StageMerge, func() error {
		res, err := m.summarizer.MergeSimilarMemories(ctx)
		rep.Merge = res
		return err
	})

	rep.Duration = time.Since(start)
	m.mu.Lock()
	last := rep
	m.lastReport = &last
	m.mu.Unlock()

	m.log.Info("maintenance complete",
		"decayArchived", rep.Decay.Archived,
		"shortTermArchived", rep.ShortTermArchived,
		"merged", rep.Merge.Merged,
		"failures", len(rep.Failures),
		"duration", rep.Duration)
	return rep
}

// StartMaintenanceSchedule runs maintenance every MaintenanceInterval until
// StopMaintenanceSchedule or Close. Starting twice is a no-op.
func (m *Manager) StartMaintenanceSchedule() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory manager is closed")
	}
	if m.sched != nil {
		return nil
	}

	c := cron.New(cron.WithLogger(cronLogger{m.log}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{m.log})))
	every := "@every " + m.opts.MaintenanceInterval.String()
	if _, err := c.AddFunc(every, func() {
		if _, err := m.RunMaintenance(context.Background()); err != nil {
			m.log.Warn("scheduled maintenance finished with errors", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	c.Start()
	m.sched = c
	m.log.Info("maintenance scheduled", "interval", m.opts.MaintenanceInterval)
	return nil
}

// StopMaintenanceSchedule stops the schedule and waits for a running pass.
func (m *Manager) StopMaintenanceSchedule() {
	m.mu.Lock()
	c := m.sched
	m.sched = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	m.log.Info("maintenance schedule stopped")
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
