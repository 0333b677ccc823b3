// Package evm implements the event source for EVM chains on top of go-ethereum.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"logscope/internal/chain"
	"logscope/internal/metrics"
	"logscope/internal/model"
)

const (
	defaultBatchSize  = 2000
	subscriptionDepth = 128
)

// Options tunes a Source.
type Options struct {
	// BatchSize is the number of blocks per eth_getLogs call during FetchRange.
	BatchSize uint64
	// RateLimit caps eth_getLogs calls per second. Zero disables throttling.
	RateLimit float64
}

// Source is the EVM event source.
type Source struct {
	client    logClient
	closeFn   func()
	batchSize uint64
	limiter   *rate.Limiter
	logger    *zap.Logger
}

var _ chain.Source = (*Source)(nil)

// NewSource builds a Source over an established client.
func NewSource(client logClient, opts Options, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaultBatchSize
	}

	s := &Source{
		client:    client,
		batchSize: opts.BatchSize,
		logger:    logger,
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	if closer, ok := client.(interface{ Close() }); ok {
		s.closeFn = closer.Close
	}
	return s
}

// Open dials rpcURL and returns a Source owning the connection.
func Open(ctx context.Context, rpcURL string, opts Options, logger *zap.Logger) (*Source, error) {
	client, err := Dial(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return NewSource(client, opts, logger), nil
}

// Close releases the RPC connection.
func (s *Source) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// FetchRange returns all matching logs in [fromBlock, head] ordered by block
// then log index.
func (s *Source) FetchRange(ctx context.Context, filter chain.Filter, fromBlock uint64) ([]model.Event, error) {
	head, err := s.client.BlockNumber(ctx)
	metrics.RecordRPC("eth_blockNumber", err)
	if err != nil {
		return nil, unavailable(ctx, "get head block", err)
	}
	if fromBlock > head {
		s.logger.Debug("start block is ahead of head", zap.Uint64("from", fromBlock), zap.Uint64("head", head))
		return nil, nil
	}

	ranges, err := chain.SplitRange(fromBlock, head, s.batchSize)
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0)
	for _, blockRange := range ranges {
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}

		s.logger.Debug("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		logs, err := s.client.FilterLogs(ctx, rangeQuery(filter, blockRange))
		metrics.RecordRPC("eth_getLogs", err)
		if err != nil {
			return nil, unavailable(ctx, fmt.Sprintf("filter logs %d-%d", blockRange.From, blockRange.To), err)
		}

		for _, log := range logs {
			if log.Removed {
				continue
			}
			events = append(events, toEvent(log))
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return events, nil
}

// SubscribeLive opens an eth_subscribe("logs") stream for filter.
func (s *Source) SubscribeLive(ctx context.Context, filter chain.Filter) (chain.Subscription, error) {
	logs := make(chan types.Log, subscriptionDepth)
	sub, err := s.client.SubscribeFilterLogs(ctx, liveQuery(filter), logs)
	metrics.RecordRPC("eth_subscribe", err)
	if err != nil {
		return nil, unavailable(ctx, "subscribe logs", err)
	}
	return newSubscription(sub, logs, s.logger), nil
}

func (s *Source) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}

	r := s.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	metrics.RPCThrottleWaits.Inc()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func rangeQuery(filter chain.Filter, blockRange chain.BlockRange) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(blockRange.From),
		ToBlock:   new(big.Int).SetUint64(blockRange.To),
		Addresses: []common.Address{filter.Contract},
		Topics:    [][]common.Hash{{filter.Signature}},
	}
}

func liveQuery(filter chain.Filter) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{filter.Contract},
		Topics:    [][]common.Hash{{filter.Signature}},
	}
}

// unavailable wraps a transport failure, leaving cancellation errors untouched
// so callers can tell a shutdown from a dropped connection.
func unavailable(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %v", chain.ErrSourceUnavailable, op, err)
}
