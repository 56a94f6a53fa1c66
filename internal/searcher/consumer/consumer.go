// Package consumer listens for database-rebuilt events on Kafka and makes
// the local search engine pick up the new files.
package consumer

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/kafka"
)

// Engine is the part of executor.Engine a reload needs.
type Engine interface {
	Paths() store.Paths
	Reload() error
}

// Invalidator drops cached results. *cache.QueryCache implements it.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ReloadConsumer wraps a Kafka consumer whose handler is HandleMessage.
type ReloadConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *ReloadConsumer {
	return &ReloadConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "reload-consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (rc *ReloadConsumer) Start(ctx context.Context) error {
	rc.logger.Info("reload consumer starting")
	return rc.consumer.Start(ctx)
}

// HandleMessage returns a handler that reloads engine when an event names
// its index file, then invalidates cache. Events for other databases and
// undecodable messages are acknowledged and ignored. A failed reload is
// returned so the consumer retries it; meanwhile the engine keeps serving
// the database it had.
func HandleMessage(engine Engine, cache Invalidator) kafka.MessageHandler {
	logger := slog.Default().With("component", "reload-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.RebuiltEvent](value)
		if err != nil {
			logger.Error("failed to decode rebuilt event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if !samePath(event.IndexPath, engine.Paths().Index) {
			logger.Debug("ignoring rebuild of another database", "index", event.IndexPath)
			return nil
		}
		if err := engine.Reload(); err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Invalidate(ctx); err != nil {
				logger.Warn("cache invalidation after reload failed", "error", err)
			}
		}
		logger.Info("database reloaded after rebuild",
			"build_id", event.BuildID,
			"records", event.Records,
		)
		return nil
	}
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
