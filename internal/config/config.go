// Package config loads crew-memory settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/crew-memory/internal/decay"
	"github.com/rcliao/crew-memory/internal/llm"
	"github.com/rcliao/crew-memory/internal/retriever"
	"github.com/rcliao/crew-memory/internal/store"
	"github.com/rcliao/crew-memory/internal/summarizer"
)

// EnvPrefix prefixes every environment override, e.g.
// CREW_MEMORY_STORAGE_ROOT or CREW_MEMORY_LLM_PROVIDER.
const EnvPrefix = "CREW_MEMORY_"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

const (
	DefaultExtractionIntervalMessages = 10
	DefaultMinExtractionInterval      = 5 * time.Minute
	DefaultMaintenanceInterval        = 6 * time.Hour
	DefaultExtractionTimeout          = 2 * time.Minute
	DefaultMetricsAddr                = ":9464"
)

// Config is the full set of crew-memory settings.
type Config struct {
	Storage       StorageConfig       `yaml:"storage" envPrefix:"STORAGE_"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" envPrefix:"RETRIEVAL_"`
	Decay         DecayConfig         `yaml:"decay" envPrefix:"DECAY_"`
	Consolidation ConsolidationConfig `yaml:"consolidation" envPrefix:"CONSOLIDATION_"`
	Manager       ManagerConfig       `yaml:"manager" envPrefix:"MANAGER_"`
	LLM           llm.Config          `yaml:"llm" envPrefix:"LLM_"`
	Log           LogConfig           `yaml:"log" envPrefix:"LOG_"`
	Metrics       MetricsConfig       `yaml:"metrics" envPrefix:"METRICS_"`
}

type StorageConfig struct {
	Root              string        `yaml:"root" env:"ROOT"`
	Backend           string        `yaml:"backend" env:"BACKEND"`
	SQLitePath        string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	FlushDebounce     time.Duration `yaml:"flush_debounce" env:"FLUSH_DEBOUNCE"`
	MaxEntriesPerFile int           `yaml:"max_entries_per_file" env:"MAX_ENTRIES_PER_FILE"`
}

type RetrievalConfig struct {
	DefaultLimit    int `yaml:"default_limit" env:"DEFAULT_LIMIT"`
	MaxInjectTokens int `yaml:"max_inject_tokens" env:"MAX_INJECT_TOKENS"`
}

type DecayConfig struct {
	Lambda           float64 `yaml:"lambda" env:"LAMBDA"`
	ArchiveThreshold float64 `yaml:"archive_threshold" env:"ARCHIVE_THRESHOLD"`
}

type ConsolidationConfig struct {
	ShortTermArchiveDays int     `yaml:"short_term_archive_days" env:"SHORT_TERM_ARCHIVE_DAYS"`
	MergeThreshold       int     `yaml:"merge_threshold" env:"MERGE_THRESHOLD"`
	PrefixRatio          float64 `yaml:"prefix_ratio" env:"PREFIX_RATIO"`
	OverlapThreshold     float64 `yaml:"overlap_threshold" env:"OVERLAP_THRESHOLD"`
	MinSummaryMessages   int     `yaml:"min_summary_messages" env:"MIN_SUMMARY_MESSAGES"`
}

type ManagerConfig struct {
	ExtractionIntervalMessages int           `yaml:"extraction_interval_messages" env:"EXTRACTION_INTERVAL_MESSAGES"`
	MinExtractionInterval      time.Duration `yaml:"min_extraction_interval" env:"MIN_EXTRACTION_INTERVAL"`
	MaintenanceInterval        time.Duration `yaml:"maintenance_interval" env:"MAINTENANCE_INTERVAL"`
	ExtractionTimeout          time.Duration `yaml:"extraction_timeout" env:"EXTRACTION_TIMEOUT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".crew-memory")
	return &Config{
		Storage: StorageConfig{
			Root:              root,
			Backend:           BackendFile,
			FlushDebounce:     store.DefaultDebounce,
			MaxEntriesPerFile: store.DefaultMaxEntriesPerShard,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:    retriever.DefaultLimit,
			MaxInjectTokens: retriever.DefaultMaxInjectTokens,
		},
		Decay: DecayConfig{
			Lambda:           decay.DefaultLambda,
			ArchiveThreshold: decay.DefaultArchiveThreshold,
		},
		Consolidation: ConsolidationConfig{
			ShortTermArchiveDays: summarizer.DefaultShortTermArchiveDays,
			MergeThreshold:       summarizer.DefaultMergeThreshold,
			PrefixRatio:          summarizer.DefaultPrefixRatio,
			OverlapThreshold:     summarizer.DefaultOverlapThreshold,
			MinSummaryMessages:   summarizer.DefaultMinSummaryMessages,
		},
		Manager: ManagerConfig{
			ExtractionIntervalMessages: DefaultExtractionIntervalMessages,
			MinExtractionInterval:      DefaultMinExtractionInterval,
			MaintenanceInterval:        DefaultMaintenanceInterval,
			ExtractionTimeout:          DefaultExtractionTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
	}
}

// DefaultPath returns $CREW_MEMORY_CONFIG or ~/.crew-memory/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".crew-memory", "config.yaml")
}

// Load reads the config file at path, applies environment overrides, and
// fills anything left unset with defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(expandHome(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()

	c.Storage.Root = expandHome(c.Storage.Root)
	if c.Storage.Root == "" {
		c.Storage.Root = d.Storage.Root
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	c.Storage.SQLitePath = expandHome(c.Storage.SQLitePath)
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.Root, "memory.db")
	}
	if c.Storage.FlushDebounce <= 0 {
		c.Storage.FlushDebounce = d.Storage.FlushDebounce
	}
	if c.Storage.MaxEntriesPerFile <= 0 {
		c.Storage.MaxEntriesPerFile = d.Storage.MaxEntriesPerFile
	}

	if c.Retrieval.DefaultLimit <= 0 {
		c.Retrieval.DefaultLimit = d.Retrieval.DefaultLimit
	}
	if c.Retrieval.MaxInjectTokens <= 0 {
		c.Retrieval.MaxInjectTokens = d.Retrieval.MaxInjectTokens
	}

	if c.Decay.Lambda <= 0 {
		c.Decay.Lambda = d.Decay.Lambda
	}
	if c.Decay.ArchiveThreshold <= 0 {
		c.Decay.ArchiveThreshold = d.Decay.ArchiveThreshold
	}

	if c.Consolidation.ShortTermArchiveDays <= 0 {
		c.Consolidation.ShortTermArchiveDays = d.Consolidation.ShortTermArchiveDays
	}
	if c.Consolidation.MergeThreshold <= 0 {
		c.Consolidation.MergeThreshold = d.Consolidation.MergeThreshold
	}
	if c.Consolidation.PrefixRatio <= 0 {
		c.Consolidation.PrefixRatio = d.Consolidation.PrefixRatio
	}
	if c.Consolidation.OverlapThreshold <= 0 {
		c.Consolidation.OverlapThreshold = d.Consolidation.OverlapThreshold
	}
	if c.Consolidation.MinSummaryMessages <= 0 {
		c.Consolidation.MinSummaryMessages = d.Consolidation.MinSummaryMessages
	}

	if c.Manager.ExtractionIntervalMessages <= 0 {
		c.Manager.ExtractionIntervalMessages = d.Manager.ExtractionIntervalMessages
	}
	if c.Manager.MinExtractionInterval <= 0 {
		c.Manager.MinExtractionInterval = d.Manager.MinExtractionInterval
	}
	if c.Manager.MaintenanceInterval <= 0 {
		c.Manager.MaintenanceInterval = d.Manager.MaintenanceInterval
	}
	if c.Manager.ExtractionTimeout <= 0 {
		c.Manager.ExtractionTimeout = d.Manager.ExtractionTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = d.Metrics.Addr
	}
}

// Validate rejects settings that cannot be served.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q (valid: file, sqlite)", c.Storage.Backend)
	}
	if c.Decay.ArchiveThreshold >= 1 {
		return fmt.Errorf("decay.archive_threshold must be below 1, got %v", c.Decay.ArchiveThreshold)
	}
	if c.Consolidation.PrefixRatio > 1 {
		return fmt.Errorf("consolidation.prefix_ratio must be at most 1, got %v", c.Consolidation.PrefixRatio)
	}
	if c.Consolidation.OverlapThreshold > 1 {
		return fmt.Errorf("consolidation.overlap_threshold must be at most 1, got %v", c.Consolidation.OverlapThreshold)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q (valid: json, text)", c.Log.Format)
	}
	return nil
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
