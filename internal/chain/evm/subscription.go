package evm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"logscope/internal/chain"
	"logscope/internal/model"
)

type subscription struct {
	sub    ethereum.Subscription
	logs   <-chan types.Log
	logger *zap.Logger
	once   sync.Once
}

func newSubscription(sub ethereum.Subscription, logs <-chan types.Log, logger *zap.Logger) *subscription {
	return &subscription{sub: sub, logs: logs, logger: logger}
}

// Next returns the next non-removed log. Cancellation wins over a pending log.
func (s *subscription) Next(ctx context.Context) (model.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Event{}, err
		}

		select {
		case <-ctx.Done():
			return model.Event{}, ctx.Err()
		case err, ok := <-s.sub.Err():
			if !ok || err == nil {
				return model.Event{}, chain.ErrSubscriptionClosed
			}
			return model.Event{}, fmt.Errorf("%w: subscription: %v", chain.ErrSourceUnavailable, err)
		case log := <-s.logs:
			if log.Removed {
				s.logger.Debug("skip removed log",
					zap.Uint64("block_number", log.BlockNumber),
					zap.String("tx_hash", log.TxHash.Hex()),
				)
				continue
			}
			return toEvent(log), nil
		}
	}
}

func (s *subscription) Close() {
	s.once.Do(s.sub.Unsubscribe)
}
