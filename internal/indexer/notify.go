package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder/notation"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/resilience"
)

// RebuiltEvent announces that a database was replaced. Searchers serving the
// same paths reload when they see it.
type RebuiltEvent struct {
	StorePath      string    `json:"store_path"`
	IndexPath      string    `json:"index_path"`
	BuildID        string    `json:"build_id"`
	Notation       string    `json:"notation"`
	EncoderVersion uint32    `json:"encoder_version"`
	Records        int       `json:"records"`
	Skipped        int       `json:"skipped"`
	BuiltAt        time.Time `json:"built_at"`
}

// Notifier is told about every successful build.
type Notifier interface {
	DatabaseRebuilt(ctx context.Context, ev RebuiltEvent) error
}

// Publisher is the part of kafka.Producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaNotifier publishes RebuiltEvents, keyed by index path, with retries.
type KafkaNotifier struct {
	publisher Publisher
	retry     resilience.RetryConfig
}

func NewKafkaNotifier(p Publisher, retry resilience.RetryConfig) *KafkaNotifier {
	return &KafkaNotifier{publisher: p, retry: retry}
}

func (n *KafkaNotifier) DatabaseRebuilt(ctx context.Context, ev RebuiltEvent) error {
	return resilience.Retry(ctx, "publish database-rebuilt", n.retry, func(ctx context.Context) error {
		return n.publisher.Publish(ctx, kafka.Event{Key: ev.IndexPath, Value: ev})
	})
}

func eventFor(r *BuildReport, codec notation.Codec) RebuiltEvent {
	return RebuiltEvent{
		StorePath:      r.StorePath,
		IndexPath:      r.IndexPath,
		BuildID:        fmt.Sprintf("%016x", r.BuildID),
		Notation:       codec.Name,
		EncoderVersion: codec.Encoder.Version(),
		Records:        r.Encoded,
		Skipped:        r.Skipped,
		BuiltAt:        time.Now().UTC(),
	}
}
