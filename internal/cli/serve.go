package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/memory"
	"github.com/rcliao/crew-memory/internal/metrics"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled maintenance and expose metrics",
		Long: `Keep the memory store open, run maintenance on the configured interval
and serve Prometheus metrics on /metrics. Pending writes are flushed on
SIGINT or SIGTERM.`,
		Run: runServe,
	}

	cmd.Flags().String("metrics-addr", "", "Listen address for /metrics (default from config)")
	cmd.Flags().Bool("maintain-now", false, "Run one maintenance pass at startup")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	now, _ := cmd.Flags().GetBool("maintain-now")

	cfg := loadConfig()
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	log := cfg.Logger(nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := openManager(ctx, cfg, metrics.New(reg))
	err := serve(ctx, m, reg, addr, now, log)
	closeManager(m)
	if err != nil {
		exitErr("serve", err)
	}
}

// serve runs the schedule and the metrics endpoint until ctx is done or the
// server fails. Pending writes are flushed on every exit path once the
// schedule is running.
func serve(ctx context.Context, m *memory.Manager, reg *prometheus.Registry, addr string, maintainNow bool, log *slog.Logger) error {
	if maintainNow {
		if _, err := m.RunMaintenance(ctx); err != nil {
			log.Warn("startup maintenance finished with errors", "error", err)
		}
	}
	if err := m.StartMaintenanceSchedule(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("metrics server failed", "error", err)
			serveErr = fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", "error", err)
	}
	m.StopMaintenanceSchedule()
	if err := m.Flush(shutdownCtx); err != nil {
		log.Error("flush on shutdown failed", "error", err)
		serveErr = errors.Join(serveErr, err)
	}
	log.Info("memory flushed", "entries", m.GetStats().Total)
	return serveErr
}
