// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the settings shared by the CST services with
// priority env > file > defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCST/pkg/logging"
	"github.com/AleutianAI/AleutianCST/services/cst/batch"
	"github.com/AleutianAI/AleutianCST/services/cst/bytecode"
	"github.com/AleutianAI/AleutianCST/services/cst/compact"
	"github.com/AleutianAI/AleutianCST/services/cst/incremental"
	"github.com/AleutianAI/AleutianCST/services/cst/storage"
	"github.com/AleutianAI/AleutianCST/services/cst/telemetry"
)

// Config is the full CST configuration.
type Config struct {
	Encoder     EncoderConfig     `yaml:"encoder" json:"encoder"`
	Compact     CompactConfig     `yaml:"compact" json:"compact"`
	Incremental IncrementalConfig `yaml:"incremental" json:"incremental"`
	Batch       BatchConfig       `yaml:"batch" json:"batch"`
	Storage     storage.Config    `yaml:"storage" json:"storage"`
	Telemetry   telemetry.Config  `yaml:"telemetry" json:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// EncoderConfig configures bytecode encoding.
type EncoderConfig struct {
	CheckpointInterval int  `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	JumpTable          bool `yaml:"jump_table" json:"jump_table"`
}

// CompactConfig configures compact tree construction.
type CompactConfig struct {
	// SampleInterval is the node spacing of the absolute position samples.
	SampleInterval int `yaml:"sample_interval" json:"sample_interval"`
}

// IncrementalConfig configures the incremental parser.
type IncrementalConfig struct {
	JournalLimit int  `yaml:"journal_limit" json:"journal_limit"`
	BuildCompact bool `yaml:"build_compact" json:"build_compact"`
}

// BatchConfig configures batch runs.
type BatchConfig struct {
	// Concurrency of zero means GOMAXPROCS.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	JSON    bool   `yaml:"json" json:"json"`
	Dir     string `yaml:"dir" json:"dir"`
	Service string `yaml:"service" json:"service"`
}

// Default returns the defaults: in-memory storage, Prometheus metrics and
// no tracing.
func Default() Config {
	return Config{
		Encoder: EncoderConfig{
			CheckpointInterval: bytecode.DefaultCheckpointInterval,
		},
		Compact: CompactConfig{
			SampleInterval: compact.DefaultSampleInterval,
		},
		Incremental: IncrementalConfig{
			JournalLimit: incremental.DefaultJournalLimit,
		},
		Storage:   storage.InMemoryConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:   "info",
			Service: "cst",
		},
	}
}

// Load returns Default overlaid with the file at path (when path is set
// and the file exists) and then with CST_* environment variables, and
// validates the result.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if the file is unreadable or invalid, or validation
//	fails.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyEnv(cfg *Config) {
	envInt("CST_CHECKPOINT_INTERVAL", &cfg.Encoder.CheckpointInterval)
	envBool("CST_JUMP_TABLE", &cfg.Encoder.JumpTable)
	envInt("CST_SAMPLE_INTERVAL", &cfg.Compact.SampleInterval)
	envInt("CST_JOURNAL_LIMIT", &cfg.Incremental.JournalLimit)
	envBool("CST_BUILD_COMPACT", &cfg.Incremental.BuildCompact)
	envInt("CST_BATCH_CONCURRENCY", &cfg.Batch.Concurrency)

	// A directory alone selects a durable database with default GC.
	if v := os.Getenv("CST_STORAGE_DIR"); v != "" {
		cfg.Storage = storage.DefaultConfig(v)
	}
	envBool("CST_STORAGE_IN_MEMORY", &cfg.Storage.InMemory)
	envBool("CST_STORAGE_SYNC_WRITES", &cfg.Storage.SyncWrites)
	if v := os.Getenv("CST_STORAGE_GC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.GCInterval = d
		}
	}

	envString("CST_TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)
	envString("CST_METRIC_EXPORTER", &cfg.Telemetry.MetricExporter)
	envString("CST_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	if v := os.Getenv("CST_TRACE_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Telemetry.SampleRate = f
		}
	}

	envString("CST_LOG_LEVEL", &cfg.Logging.Level)
	envBool("CST_LOG_JSON", &cfg.Logging.JSON)
	envString("CST_LOG_DIR", &cfg.Logging.Dir)
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.Encoder.CheckpointInterval < 1 {
		return fmt.Errorf("encoder.checkpoint_interval must be >= 1")
	}
	if c.Compact.SampleInterval < 1 {
		return fmt.Errorf("compact.sample_interval must be >= 1")
	}
	if c.Incremental.JournalLimit < 1 {
		return fmt.Errorf("incremental.journal_limit must be >= 1")
	}
	if c.Batch.Concurrency < 0 {
		return fmt.Errorf("batch.concurrency must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Logger builds the process logger. Validate has already checked the level.
func (c Config) Logger() *logging.Logger {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.New(logging.Config{
		Level:   level,
		JSON:    c.Logging.JSON,
		LogDir:  c.Logging.Dir,
		Service: c.Logging.Service,
	})
}

// EncoderOptions returns the bytecode encoder options.
func (c Config) EncoderOptions(logger *slog.Logger) []bytecode.EncoderOption {
	opts := []bytecode.EncoderOption{
		bytecode.WithCheckpointInterval(c.Encoder.CheckpointInterval),
		bytecode.WithEncoderLogger(logger),
	}
	if c.Encoder.JumpTable {
		opts = append(opts, bytecode.WithJumpTable())
	}
	return opts
}

// CompactOptions returns the compact builder options.
func (c Config) CompactOptions(logger *slog.Logger) []compact.Option {
	return []compact.Option{
		compact.WithSampleInterval(c.Compact.SampleInterval),
		compact.WithLogger(logger),
	}
}

// IncrementalOptions returns the incremental parser options. store may be
// nil.
func (c Config) IncrementalOptions(logger *slog.Logger, store incremental.JournalStore) []incremental.Option {
	opts := []incremental.Option{
		incremental.WithLogger(logger),
		incremental.WithJournalLimit(c.Incremental.JournalLimit),
	}
	if store != nil {
		opts = append(opts, incremental.WithJournalStore(store))
	}
	if c.Incremental.BuildCompact {
		opts = append(opts, incremental.WithCompactBuild(c.CompactOptions(logger)...))
	}
	return opts
}

// BatchOptions returns batch options. sink may be nil.
func (c Config) BatchOptions(logger *slog.Logger, sink batch.StreamSink) batch.Options {
	return batch.Options{
		Concurrency:        c.Batch.Concurrency,
		CheckpointInterval: c.Encoder.CheckpointInterval,
		JumpTable:          c.Encoder.JumpTable,
		SampleInterval:     c.Compact.SampleInterval,
		Sink:               sink,
		Logger:             logger,
	}
}

// StoreOptions returns the storage.Store options.
func (c Config) StoreOptions(logger *slog.Logger) []storage.StoreOption {
	return []storage.StoreOption{
		storage.WithJournalLimit(c.Incremental.JournalLimit),
		storage.WithStoreLogger(logger),
	}
}
