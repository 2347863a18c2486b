// Package cli implements the crew-memory CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/config"
	"github.com/rcliao/crew-memory/internal/llm"
	"github.com/rcliao/crew-memory/internal/memory"
	"github.com/rcliao/crew-memory/internal/metrics"
)

var (
	configPath string
	rootDir    string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "crew-memory",
	Short: "Shared memory for a crew of agents",
	Long:  "Store, recall and maintain the memories of a multi-agent crew. JSON shards on disk or a single SQLite file.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CREW_MEMORY_CONFIG or ~/.crew-memory/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", "", "Storage root, overrides storage.root")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if rootDir != "" {
		cfg.Storage.Root = rootDir
		cfg.Storage.SQLitePath = filepath.Join(rootDir, "memory.db")
	}
	return cfg
}

// openManager builds a Manager from the loaded config and hands it the
// configured LLM client, if any.
func openManager(ctx context.Context, cfg *config.Config, m *metrics.Metrics) *memory.Manager {
	log := cfg.Logger(os.Stderr)

	client, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		exitErr("llm", err)
	}

	mgr, err := memory.Open(ctx, cfg, memory.Options{Logger: log, Metrics: m})
	if err != nil {
		exitErr("open memory", err)
	}
	mgr.Initialize(client)
	return mgr
}

func closeManager(m *memory.Manager) {
	if err := m.Close(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close: %v\n", err)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

func splitCSV(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// readContent returns args joined, or stdin when it is piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}
