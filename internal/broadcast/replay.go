package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/storage"
)

// DefaultSettleWindow is how long the replayer waits for a missing
// sequence number to become visible before skipping it.
const DefaultSettleWindow = 10 * time.Second

// Replayer tails the canvas in commit order and hands every pixel to one
// sink, checkpointing the last delivered sequence number. Delivery is
// at-least-once: a sink may see a pixel again after a restart, so it must
// be idempotent on pixel ID.
//
// Sequence numbers are assigned before commit, so a later seq can become
// visible first. The replayer never moves past a gap until the settle
// window has elapsed; the window must exceed the longest insert, which the
// storage query timeout bounds. Gaps that outlive it are seqs burned by
// rejected inserts and are skipped.
type Replayer struct {
	name         string
	pixels       storage.PixelStore
	sink         Publisher
	checkpoint   Checkpoint
	pollInterval time.Duration
	batchSize    int
	settle       time.Duration
	now          func() time.Time
	logger       *slog.Logger

	// gap is the first missing seq the replayer is waiting on.
	gap *seqGap
}

type seqGap struct {
	seq  int64
	seen time.Time
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithSettleWindow overrides DefaultSettleWindow. Zero skips gaps at once.
func WithSettleWindow(d time.Duration) ReplayerOption {
	return func(r *Replayer) { r.settle = d }
}

// WithReplayClock sets the clock used to age sequence gaps.
func WithReplayClock(now func() time.Time) ReplayerOption {
	return func(r *Replayer) { r.now = now }
}

func NewReplayer(name string, pixels storage.PixelStore, sink Publisher, checkpoint Checkpoint, pollInterval time.Duration, batchSize int, logger *slog.Logger, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		name:         name,
		pixels:       pixels,
		sink:         sink,
		checkpoint:   checkpoint,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		settle:       DefaultSettleWindow,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled, then persists the final checkpoint.
func (r *Replayer) Run(ctx context.Context) {
	lastSeq, err := r.checkpoint.Load(ctx, r.name)
	if err != nil {
		r.logger.Error("failed to load checkpoint", "sink", r.name, "error", err)
		return
	}
	r.logger.Info("replayer started", "sink", r.name, "from_seq", lastSeq)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.checkpoint.Save(context.Background(), r.name, lastSeq); err != nil {
				r.logger.Error("failed to save final checkpoint", "sink", r.name, "error", err)
			}
			return
		case <-ticker.C:
			newSeq, err := r.Step(ctx, lastSeq)
			if err != nil {
				r.logger.Error("replay batch failed", "sink", r.name, "error", err)
			}
			if newSeq > lastSeq {
				lastSeq = newSeq
				if err := r.checkpoint.Save(ctx, r.name, lastSeq); err != nil {
					r.logger.Error("failed to save checkpoint", "sink", r.name, "error", err)
				}
			}
		}
	}
}

// Step delivers one batch after afterSeq and returns the last delivered seq.
// It stops at the first sink failure so pixels stay in commit order; the
// failed pixel is retried on the next step. It also stops in front of a
// sequence gap younger than the settle window. Step is not safe for
// concurrent use.
func (r *Replayer) Step(ctx context.Context, afterSeq int64) (int64, error) {
	cursor := ""
	if afterSeq > 0 {
		c, err := (&storage.Cursor{Seq: afterSeq}).Encode()
		if err != nil {
			return afterSeq, err
		}
		cursor = c
	}

	page, err := r.pixels.ListPixels(ctx, cursor, r.batchSize)
	if err != nil {
		return afterSeq, fmt.Errorf("list pixels: %w", err)
	}

	last := afterSeq
	for _, p := range page.Pixels {
		if p.Seq != last+1 && !r.gapSettled(last+1, p.Seq) {
			return last, nil
		}
		if err := r.sink.Publish(ctx, NewPixelEvent(p)); err != nil {
			return last, fmt.Errorf("publish seq %d: %w", p.Seq, err)
		}
		last = p.Seq
	}
	return last, nil
}

// gapSettled reports whether the replayer may skip from missing up to next.
// The first sighting of a gap starts its clock.
func (r *Replayer) gapSettled(missing, next int64) bool {
	now := r.now()
	if r.gap == nil || r.gap.seq != missing {
		r.gap = &seqGap{seq: missing, seen: now}
		r.logger.Debug("holding replay at sequence gap", "sink", r.name, "missing_seq", missing)
	}
	if now.Sub(r.gap.seen) < r.settle {
		return false
	}
	r.logger.Debug("skipping unused sequence numbers", "sink", r.name, "from", missing, "to", next-1)
	r.gap = nil
	return true
}
