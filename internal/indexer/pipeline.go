// Package indexer runs one stream: historical backfill, then a live
// subscription, persisting every matching event in source order.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"logscope/internal/chain"
	"logscope/internal/decode"
	"logscope/internal/metrics"
	"logscope/internal/model"
	"logscope/internal/store"
)

const (
	phaseBackfill = "backfill"
	phaseLive     = "live"
)

// Config holds the validated settings of one pipeline.
type Config struct {
	Stream       string
	Filter       chain.Filter
	StartBlock   uint64
	MaxRetries   int
	RetryBackoff time.Duration
	// Layout enables decoding when set. Events that fail to decode are skipped.
	Layout *decode.Layout
}

// Pipeline moves events from a Source into a store Writer.
type Pipeline struct {
	cfg    Config
	source chain.Source
	writer store.Writer
	logger *zap.Logger
	state  atomic.Int32
}

// NewPipeline builds a Pipeline with its dependencies.
func NewPipeline(cfg Config, source chain.Source, writer store.Writer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:    cfg,
		source: source,
		writer: writer,
		logger: logger.With(zap.String("stream", cfg.Stream)),
	}
	p.setState(StateCreated)
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	metrics.UnitState.WithLabelValues(p.cfg.Stream).Set(float64(s))
}

// Run blocks until ctx is cancelled or the pipeline fails. Cancellation is a
// clean stop and returns nil. Any other error leaves the pipeline Failed.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.source == nil {
		return p.fail(fmt.Errorf("source is nil"))
	}
	if p.writer == nil {
		return p.fail(fmt.Errorf("store writer is nil"))
	}

	err := p.run(ctx)
	if err == nil || isCancellation(ctx, err) {
		p.setState(StateStopped)
		p.logger.Info("pipeline stopped")
		return nil
	}
	return p.fail(err)
}

func (p *Pipeline) fail(err error) error {
	p.setState(StateFailed)
	p.logger.Error("pipeline failed", zap.Error(err))
	return err
}

func (p *Pipeline) run(ctx context.Context) error {
	if err := p.writer.EnsureTable(ctx, p.cfg.Stream); err != nil {
		return fmt.Errorf("ensure table: %w", err)
	}

	if err := p.backfill(ctx); err != nil {
		return err
	}
	return p.follow(ctx)
}

func (p *Pipeline) backfill(ctx context.Context) error {
	p.setState(StateBackfilling)
	started := time.Now()
	p.logger.Info("backfill started", zap.Uint64("from", p.cfg.StartBlock))

	events, err := p.fetchRangeWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	persisted := 0
	for _, event := range events {
		ok, err := p.handle(ctx, event, phaseBackfill)
		if err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
		if ok {
			persisted++
		}
	}

	elapsed := time.Since(started)
	metrics.BackfillDuration.WithLabelValues(p.cfg.Stream).Observe(elapsed.Seconds())
	p.logger.Info("backfill completed",
		zap.Int("events", len(events)),
		zap.Int("persisted", persisted),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// follow consumes the live subscription. Events emitted between the backfill
// head read and the subscription start are not recovered.
func (p *Pipeline) follow(ctx context.Context) error {
	p.setState(StateSubscribing)

	sub, err := p.source.SubscribeLive(ctx, p.cfg.Filter)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()
	p.logger.Info("subscription established")

	for {
		event, err := sub.Next(ctx)
		if err != nil {
			return fmt.Errorf("live: %w", err)
		}
		if _, err := p.handle(ctx, event, phaseLive); err != nil {
			return fmt.Errorf("live: %w", err)
		}
	}
}

func (p *Pipeline) fetchRangeWithRetry(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	err := withRetry(ctx, p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		events, err = p.source.FetchRange(ctx, p.cfg.Filter, p.cfg.StartBlock)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("fetch range failed", zap.Error(err), zap.Uint64("from", p.cfg.StartBlock))
		}
		return err
	})
	return events, err
}

// handle decodes (when configured) and persists one event. It reports false
// when the event was skipped.
func (p *Pipeline) handle(ctx context.Context, event model.Event, phase string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if p.cfg.Layout != nil {
		fields, err := p.cfg.Layout.Decode(event.Topics, event.Data)
		if err != nil {
			metrics.DecodeFailures.WithLabelValues(p.cfg.Stream).Inc()
			p.logger.Warn("skip undecodable event",
				zap.Error(err),
				zap.Uint64("block_number", event.BlockNumber),
				zap.String("tx_hash", event.TransactionHash.Hex()),
			)
			return false, nil
		}
		if ce := p.logger.Check(zap.DebugLevel, "event decoded"); ce != nil {
			ce.Write(zap.Uint64("block_number", event.BlockNumber), zap.Any("fields", decode.Stringify(fields)))
		}
	}

	if err := p.writer.Insert(ctx, p.cfg.Stream, event); err != nil {
		return false, fmt.Errorf("persist event at block %d: %w", event.BlockNumber, err)
	}
	metrics.EventsPersisted.WithLabelValues(p.cfg.Stream, phase).Inc()
	metrics.LastBlock.WithLabelValues(p.cfg.Stream).Set(float64(event.BlockNumber))
	return true, nil
}

func isCancellation(ctx context.Context, err error) bool {
	ctxErr := ctx.Err()
	return ctxErr != nil && errors.Is(err, ctxErr)
}
