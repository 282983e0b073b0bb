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

// Command mahavishnu runs the workflow orchestrator's control plane: the
// dependency manager, dead-letter queue, pool/worker registry, event bus,
// and subscription gateway, wired together from a single YAML config.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lesleslie/mahavishnu-sub005/internal/config"
	"github.com/lesleslie/mahavishnu-sub005/internal/logging"
	apperrors "github.com/lesleslie/mahavishnu-sub005/internal/errors"
	graph "github.com/lesleslie/mahavishnu-sub005/pkg/dependency"
	"github.com/lesleslie/mahavishnu-sub005/pkg/dlq"
	"github.com/lesleslie/mahavishnu-sub005/pkg/eventbus"
	"github.com/lesleslie/mahavishnu-sub005/pkg/gateway"
	"github.com/lesleslie/mahavishnu-sub005/pkg/notify"
	"github.com/lesleslie/mahavishnu-sub005/pkg/pool"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the orchestrator's YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := logging.NewLogrus(cfg.Logging.Level, cfg.Logging.Format)
	logger.WithField("config_path", *configPath).Info("starting mahavishnu")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter := graph.NewEventEmitter(func(evtType graph.EventType, r any) {
		logger.WithFields(logrus.Fields{"event_type": evtType, "recovered": r}).Error("dependency event handler panicked")
	})
	manager := graph.NewManager(emitter)

	accessLogger, err := logging.NewLogr(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		logger.WithError(err).Warn("gateway access logging is unavailable")
	}

	bus := eventbus.New(cfg.Subscription.DeliveryQueueSize)
	registry := pool.NewRegistry(eventbus.PoolSink{Bus: bus})

	persistence := dlqPersistence(cfg, logger)
	queue := dlq.New(dlq.Config{
		Capacity:              cfg.DLQ.MaxSize,
		Persistence:           persistence,
		SlowCallbackThreshold: time.Duration(cfg.DLQ.SlowCallbackThresholdSeconds) * time.Second,
		OnSlowCallback: func(taskID string, elapsed time.Duration) {
			logger.WithFields(logrus.Fields{"task_id": taskID, "elapsed": elapsed}).Warn("retry callback is running slower than the configured threshold")
		},
	})

	if cfg.DLQ.RetryProcessorEnabled {
		queue.StartRetryProcessor(ctx, defaultRetryCallback(manager, logger), time.Duration(cfg.DLQ.RetryIntervalSeconds)*time.Second)
		defer queue.StopRetryProcessor()
	}

	if webhook := os.Getenv("MAHAVISHNU_SLACK_WEBHOOK_URL"); webhook != "" {
		notifier := notify.NewSlackNotifier(webhook, os.Getenv("MAHAVISHNU_SLACK_CHANNEL"), logger)
		go notifier.Run(ctx, bus, eventbus.GlobalChannel)
		logger.Info("slack notifier enabled")
	}

	gw := gateway.NewServer(gateway.Config{
		Manager:        manager,
		Registry:       registry,
		Bus:            bus,
		Logger:         logger,
		AccessLogger:   accessLogger,
		PingInterval:   time.Duration(cfg.Subscription.PingIntervalSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.Subscription.RequestTimeoutSeconds) * time.Second,
	})

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: gw.Router(),
	}

	watcher, err := config.Watch(*configPath, func(next *config.Config) {
		logger.Info("configuration file changed; logging level and format require a restart to take effect")
		cfg = next
	})
	if err != nil {
		logger.WithError(err).Warn("configuration hot-reload is unavailable")
	} else {
		defer watcher.Close()
	}

	go func() {
		logger.WithField("addr", cfg.Server.ListenAddr).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("gateway server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("gateway session shutdown did not complete cleanly")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server shutdown did not complete cleanly")
	}
	logger.Info("mahavishnu stopped")
}

func dlqPersistence(cfg *config.Config, logger *logrus.Logger) dlq.Persistence {
	if !cfg.DLQ.Enabled || cfg.Persistence.RedisAddr == "" {
		return dlq.NoopPersistence{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Persistence.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.WithError(err).Warn("redis persistence unreachable at startup; DLQ advisory projection will be degraded")
	}
	return dlq.NewRedisPersistence(client, cfg.Persistence.KeyPrefix)
}

// defaultRetryCallback re-submits a failed task's payload through the
// dependency manager by marking it pending again, mirroring the path a
// freshly submitted task would take.
func defaultRetryCallback(manager *graph.Manager, logger *logrus.Logger) dlq.RetryCallback {
	return func(ctx context.Context, payload map[string]any, repositories []string) error {
		taskID, _ := payload["task_id"].(string)
		if taskID == "" {
			return apperrors.NewValidationError("retry payload missing task_id")
		}
		if _, ok := manager.Status(taskID); !ok {
			// AddTask registers the task as pending already.
			manager.AddTask(taskID, payload)
			return nil
		}
		_, err := manager.UpdateTaskStatus(taskID, graph.StatusPending)
		if err != nil {
			logger.WithError(err).WithField("task_id", taskID).Warn("retry callback could not resubmit task")
		}
		return err
	}
}
