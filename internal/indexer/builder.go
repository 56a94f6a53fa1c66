// Package indexer builds the formatted database: it streams raw records,
// encodes them in parallel batches and writes the store and index through
// internal/indexer/store.
package indexer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder/notation"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/source"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/metrics"
)

// NoLimit reads the whole source.
const NoLimit = -1

// SkipWarning records an input item left out of the database.
type SkipWarning struct {
	Ordinal int
	ID      string
	Reason  string
}

func (w SkipWarning) String() string {
	if w.ID == "" {
		return fmt.Sprintf("record %d skipped: %s", w.Ordinal, w.Reason)
	}
	return fmt.Sprintf("record %d (%s) skipped: %s", w.Ordinal, w.ID, w.Reason)
}

// BuildReport summarises a finished build.
type BuildReport struct {
	Read      int
	Encoded   int
	Skipped   int
	Warnings  []SkipWarning
	StorePath string
	IndexPath string
	BuildID   uint64
	Duration  time.Duration
}

type Options struct {
	Workers     int
	BatchSize   int
	LockTimeout time.Duration
	Notifier    Notifier
	Metrics     *metrics.Metrics
}

// Builder formats databases for one notation. A Builder may run several
// builds concurrently as long as they target different paths; builds of the
// same paths serialise on the database lock, in and across processes.
type Builder struct {
	codec  notation.Codec
	opts   Options
	logger *slog.Logger
}

func NewBuilder(codec notation.Codec, opts Options) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 512
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	return &Builder{
		codec:  codec,
		opts:   opts,
		logger: slog.Default().With("component", "builder", "notation", codec.Name),
	}
}

// Build reads at most limit records from src (NoLimit for all), encodes them
// and atomically replaces the database at paths. Records that cannot be read
// or encoded are skipped with a warning. On error the previous database, if
// any, is left untouched.
func (b *Builder) Build(ctx context.Context, src source.Source, paths store.Paths, limit int) (*BuildReport, error) {
	start := time.Now()
	report, err := b.build(ctx, src, paths, limit)
	if b.opts.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		b.opts.Metrics.BuildsTotal.WithLabelValues(status).Inc()
		b.opts.Metrics.BuildDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		b.logger.Error("build failed", "store", paths.Store, "error", err)
		return nil, err
	}
	report.Duration = time.Since(start)
	b.logger.Info("database built",
		"store", report.StorePath,
		"index", report.IndexPath,
		"read", report.Read,
		"encoded", report.Encoded,
		"skipped", report.Skipped,
		"build_id", fmt.Sprintf("%016x", report.BuildID),
		"duration", report.Duration,
	)
	if b.opts.Metrics != nil {
		b.opts.Metrics.RecordsEncodedTotal.Add(float64(report.Encoded))
		b.opts.Metrics.RecordsSkippedTotal.Add(float64(report.Skipped))
	}
	if b.opts.Notifier != nil {
		if err := b.opts.Notifier.DatabaseRebuilt(ctx, eventFor(report, b.codec)); err != nil {
			b.logger.Warn("rebuild notification failed", "error", err)
		}
	}
	return report, nil
}

func (b *Builder) build(ctx context.Context, src source.Source, paths store.Paths, limit int) (*BuildReport, error) {
	if err := os.MkdirAll(filepath.Dir(paths.Index), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating directory for %s: %w", apperrors.ErrBuildIO, paths.Index, err)
	}
	unlock, err := b.lock(ctx, paths)
	if err != nil {
		return nil, err
	}
	defer unlock()

	buildID := newBuildID()
	w, err := store.Create(paths, b.codec.Encoder.Version(), buildID)
	if err != nil {
		return nil, err
	}
	report := &BuildReport{StorePath: paths.Store, IndexPath: paths.Index, BuildID: buildID}
	if err := b.fill(ctx, src, w, limit, report); err != nil {
		w.Abort()
		return nil, err
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}
	return report, nil
}

// lock takes the advisory lock next to the index, polling until the lock
// timeout.
func (b *Builder) lock(ctx context.Context, paths store.Paths) (func(), error) {
	l := flock.New(paths.LockPath())
	lockCtx, cancel := context.WithTimeout(ctx, b.opts.LockTimeout)
	defer cancel()
	locked, err := l.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("build cancelled waiting for lock: %w", ctx.Err())
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: locking %s: %w", apperrors.ErrBuildIO, paths.LockPath(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrBuildLocked, paths.LockPath())
	}
	return func() { _ = l.Unlock() }, nil
}

type encoded struct {
	ordinal int
	id      string
	seq     encoder.EncodedSequence
	skip    string
}

func (b *Builder) fill(ctx context.Context, src source.Source, w *store.Writer, limit int, report *BuildReport) error {
	batch := make([]encoded, 0, b.opts.BatchSize)
	raw := make([]source.Record, 0, b.opts.BatchSize)
	done := false
	for !done {
		batch, raw = batch[:0], raw[:0]
		for len(batch) < b.opts.BatchSize {
			if limit >= 0 && report.Read >= limit {
				done = true
				break
			}
			rec, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				done = true
				break
			}
			var bad *source.MalformedError
			switch {
			case errors.As(err, &bad):
				batch = append(batch, encoded{ordinal: report.Read, id: bad.ID, skip: bad.Error()})
				raw = append(raw, source.Record{})
			case err != nil:
				if ctx.Err() != nil {
					return fmt.Errorf("build cancelled: %w", ctx.Err())
				}
				return fmt.Errorf("%w: reading record %d: %w", apperrors.ErrBuildIO, report.Read, err)
			default:
				batch = append(batch, encoded{ordinal: report.Read, id: rec.ID})
				raw = append(raw, rec)
			}
			report.Read++
		}
		b.encodeBatch(batch, raw)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("build cancelled: %w", err)
		}
		for _, e := range batch {
			if e.skip != "" {
				warn := SkipWarning{Ordinal: e.ordinal, ID: e.id, Reason: e.skip}
				report.Warnings = append(report.Warnings, warn)
				report.Skipped++
				b.logger.Warn("record skipped", "ordinal", e.ordinal, "id", e.id, "reason", e.skip)
				continue
			}
			if err := w.Append(e.seq); err != nil {
				return err
			}
			report.Encoded++
		}
	}
	return nil
}

// encodeBatch parses and encodes every readable record of batch in place.
// Results land at their own positions, so write order is input order no
// matter how the work is scheduled.
func (b *Builder) encodeBatch(batch []encoded, raw []source.Record) {
	var g errgroup.Group
	g.SetLimit(b.opts.Workers)
	for i := range batch {
		if batch[i].skip != "" {
			continue
		}
		g.Go(func() error {
			seq, err := b.codec.Encode(raw[i].ID, raw[i].Notation)
			if err != nil {
				batch[i].skip = err.Error()
				return nil
			}
			batch[i].seq = seq
			return nil
		})
	}
	_ = g.Wait()
}

func newBuildID() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8])
}
