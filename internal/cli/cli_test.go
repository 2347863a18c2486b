package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/config"
	"github.com/rcliao/crew-memory/internal/memory"
	"github.com/rcliao/crew-memory/internal/model"
)

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" infra, ,db ,")
	if len(got) != 2 || got[0] != "infra" || got[1] != "db" {
		t.Fatalf("splitCSV = %q", got)
	}
	if splitCSV("") != nil {
		t.Fatal("empty input should give nil")
	}
}

func parseFilter(t *testing.T, includeAll bool, args ...string) (*cobra.Command, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	filterFlags(cmd, includeAll, 20)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	_, err := filterFromFlags(cmd)
	return cmd, err
}

func TestFilterFromFlags(t *testing.T) {
	cmd, err := parseFilter(t, false,
		"--type", "fact,decision",
		"--scope", "shared",
		"--tags", "infra,db",
		"--min-importance", "0.5",
		"--where", "accessCount > 2",
		"--limit", "5",
	)
	if err != nil {
		t.Fatalf("filterFromFlags: %v", err)
	}
	f, _ := filterFromFlags(cmd)
	if len(f.Types) != 2 || f.Types[0] != model.TypeFact || f.Types[1] != model.TypeDecision {
		t.Errorf("types = %v", f.Types)
	}
	if len(f.Scopes) != 1 || f.Scopes[0] != model.ScopeShared {
		t.Errorf("scopes = %v", f.Scopes)
	}
	if len(f.Tags) != 2 || f.MinImportance != 0.5 || f.Limit != 5 {
		t.Errorf("filter = %+v", f)
	}
	if f.Where != "accessCount > 2" {
		t.Errorf("where = %q", f.Where)
	}
	if f.IncludeArchived || f.IncludeSuperseded {
		t.Error("list excludes archived and superseded by default")
	}
}

func TestFilterFromFlagsExportDefaults(t *testing.T) {
	cmd, err := parseFilter(t, true)
	if err != nil {
		t.Fatalf("filterFromFlags: %v", err)
	}
	f, _ := filterFromFlags(cmd)
	if !f.IncludeArchived || !f.IncludeSuperseded {
		t.Error("export includes archived and superseded by default")
	}
}

func TestFilterFromFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseFilter(t, false, "--type", "gossip"); !errors.Is(err, model.ErrUnknownType) {
		t.Errorf("unknown type: err = %v", err)
	}
	if _, err := parseFilter(t, false, "--scope", "team"); !errors.Is(err, model.ErrInvalidScope) {
		t.Errorf("unknown scope: err = %v", err)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"store", "get", "update", "list", "recall", "search", "context", "forget",
		"reinforce", "promote", "link", "maintain", "stats", "export", "import", "serve", "types",
	}
	have := make(map[string]bool)
	for _, c := range RootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func newServeManager(t *testing.T) (*memory.Manager, *slog.Logger) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.FlushDebounce = time.Hour
	m, err := memory.Open(context.Background(), cfg, memory.Options{Logger: log})
	if err != nil {
		t.Fatalf("open manager: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, log
}

func TestServeFlushesWhenServerFails(t *testing.T) {
	m, log := newServeManager(t)
	if res := m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "Pending fact"}); !res.OK() {
		t.Fatalf("store: %v", res.Err)
	}
	if m.GetStats().Pending == 0 {
		t.Fatal("expected pending writes before serve")
	}

	err := serve(context.Background(), m, prometheus.NewRegistry(), "missing-port", false, log)
	if err == nil {
		t.Fatal("expected listen error")
	}
	if p := m.GetStats().Pending; p != 0 {
		t.Errorf("expected writes flushed on failure, %d shards pending", p)
	}
}

func TestServeReturnsScheduleError(t *testing.T) {
	m, log := newServeManager(t)
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := serve(context.Background(), m, prometheus.NewRegistry(), "missing-port", false, log); err == nil {
		t.Error("expected schedule error from a closed manager")
	}
}
