/*
Copyright 2026 The Mahavishnu Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the orchestrator's YAML configuration,
// with environment-variable overrides and optional hot-reload on file
// change.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RetryPolicy is one of the dead-letter queue's retry strategies.
type RetryPolicy string

const (
	RetryPolicyNever       RetryPolicy = "never"
	RetryPolicyLinear      RetryPolicy = "linear"
	RetryPolicyExponential RetryPolicy = "exponential"
	RetryPolicyImmediate   RetryPolicy = "immediate"
)

// OrderingStrategy is one of the task ordering engine's ranking strategies.
type OrderingStrategy string

const (
	StrategyDeadlineFirst    OrderingStrategy = "deadline_first"
	StrategyPriorityFirst    OrderingStrategy = "priority_first"
	StrategyDependencyAware  OrderingStrategy = "dependency_aware"
	StrategyBlockerAware     OrderingStrategy = "blocker_aware"
	StrategyBalanced         OrderingStrategy = "balanced"
)

// ServerConfig controls the gateway's listen addresses.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DLQConfig mirrors the `dlq.*` keys enumerated in the wire specification.
type DLQConfig struct {
	Enabled                bool        `yaml:"enabled"`
	MaxSize                int         `yaml:"max_size"`
	DefaultRetryPolicy     RetryPolicy `yaml:"default_retry_policy"`
	DefaultMaxRetries      int         `yaml:"default_max_retries"`
	RetryProcessorEnabled  bool        `yaml:"retry_processor_enabled"`
	RetryIntervalSeconds   int         `yaml:"retry_interval_seconds"`
	SlowCallbackThresholdSeconds int   `yaml:"slow_callback_threshold_seconds"`
}

// OrderingConfig centralizes the task ordering engine's thresholds — the
// spec calls out that these should live in one configuration record rather
// than being duplicated across the codebase.
type OrderingConfig struct {
	DefaultStrategy          OrderingStrategy `yaml:"default_strategy"`
	UrgentDeadlineDays       int              `yaml:"urgent_deadline_days"`
	ApproachingDeadlineDays  int              `yaml:"approaching_deadline_days"`
	ParallelismFactor        float64          `yaml:"parallelism_factor"`
}

// SubscriptionConfig controls the subscription gateway's session behavior.
type SubscriptionConfig struct {
	PingIntervalSeconds  int `yaml:"ping_interval_seconds"`
	DeliveryQueueSize    int `yaml:"delivery_queue_size"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// PoolConfig bounds default pool/worker registry behavior.
type PoolConfig struct {
	DefaultMinWorkers int `yaml:"default_min_workers"`
	DefaultMaxWorkers int `yaml:"default_max_workers"`
}

// LoggingConfig selects the ambient logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PersistenceConfig configures the DLQ's advisory Redis projection.
type PersistenceConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Config is the root configuration object.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	DLQ          DLQConfig          `yaml:"dlq"`
	Ordering     OrderingConfig     `yaml:"ordering"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Pool         PoolConfig         `yaml:"pool"`
	Logging      LoggingConfig      `yaml:"logging"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8690",
			MetricsAddr: ":9090",
		},
		DLQ: DLQConfig{
			Enabled:                      true,
			MaxSize:                      10_000,
			DefaultRetryPolicy:           RetryPolicyExponential,
			DefaultMaxRetries:            3,
			RetryProcessorEnabled:        true,
			RetryIntervalSeconds:         60,
			SlowCallbackThresholdSeconds: 30,
		},
		Ordering: OrderingConfig{
			DefaultStrategy:         StrategyBalanced,
			UrgentDeadlineDays:      3,
			ApproachingDeadlineDays: 7,
			ParallelismFactor:       0.6,
		},
		Subscription: SubscriptionConfig{
			PingIntervalSeconds:   20,
			DeliveryQueueSize:     1024,
			RequestTimeoutSeconds: 5,
		},
		Pool: PoolConfig{
			DefaultMinWorkers: 1,
			DefaultMaxWorkers: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Persistence: PersistenceConfig{
			RedisAddr: "localhost:6379",
			KeyPrefix: "mahavishnu:dlq:",
		},
	}
}

// Load reads and parses the YAML file at path, applying defaults for
// missing sections and then environment overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("MAHAVISHNU_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("MAHAVISHNU_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("MAHAVISHNU_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MAHAVISHNU_DLQ_MAX_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAHAVISHNU_DLQ_MAX_SIZE: %w", err)
		}
		cfg.DLQ.MaxSize = n
	}
	if v := os.Getenv("MAHAVISHNU_DLQ_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MAHAVISHNU_DLQ_ENABLED: %w", err)
		}
		cfg.DLQ.Enabled = b
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.DLQ.MaxSize < 100 || cfg.DLQ.MaxSize > 100_000 {
		return fmt.Errorf("dlq.max_size must be between 100 and 100000, got %d", cfg.DLQ.MaxSize)
	}
	if cfg.DLQ.DefaultMaxRetries < 0 || cfg.DLQ.DefaultMaxRetries > 10 {
		return fmt.Errorf("dlq.default_max_retries must be between 0 and 10, got %d", cfg.DLQ.DefaultMaxRetries)
	}
	switch cfg.DLQ.DefaultRetryPolicy {
	case RetryPolicyNever, RetryPolicyLinear, RetryPolicyExponential, RetryPolicyImmediate:
	default:
		return fmt.Errorf("unsupported dlq.default_retry_policy: %s", cfg.DLQ.DefaultRetryPolicy)
	}
	if cfg.DLQ.RetryIntervalSeconds < 10 || cfg.DLQ.RetryIntervalSeconds > 3600 {
		return fmt.Errorf("dlq.retry_interval_seconds must be between 10 and 3600, got %d", cfg.DLQ.RetryIntervalSeconds)
	}
	switch cfg.Ordering.DefaultStrategy {
	case StrategyDeadlineFirst, StrategyPriorityFirst, StrategyDependencyAware, StrategyBlockerAware, StrategyBalanced:
	default:
		return fmt.Errorf("unsupported ordering.default_strategy: %s", cfg.Ordering.DefaultStrategy)
	}
	if cfg.Subscription.PingIntervalSeconds <= 0 {
		return fmt.Errorf("subscription.ping_interval_seconds must be greater than 0")
	}
	if cfg.Subscription.DeliveryQueueSize <= 0 {
		return fmt.Errorf("subscription.delivery_queue_size must be greater than 0")
	}
	if cfg.Pool.DefaultMinWorkers < 0 || cfg.Pool.DefaultMinWorkers > cfg.Pool.DefaultMaxWorkers {
		return fmt.Errorf("pool.default_min_workers must be non-negative and not exceed default_max_workers")
	}
	return nil
}

// Watch re-loads the config whenever the underlying file is written, and
// invokes onChange with the new value. Callers are responsible for
// tolerating concurrent calls to onChange. The returned io.Closer stops the
// watch.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}
	watcher := &Watcher{fsw: w, done: make(chan struct{})}
	go watcher.loop(path, onChange)
	return watcher, nil
}

// Watcher hot-reloads a Config from its backing file on write events.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

func (w *Watcher) loop(path string, onChange func(*Config)) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Ignore CHMOD-only events: many editors emit those without a
			// content write and reloading on them is just noise.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				continue
			}
			onChange(cfg)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
