// Package chain defines the chain-agnostic event source boundary used by the
// indexing pipeline.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"logscope/internal/model"
)

var (
	// ErrSourceUnavailable marks a transport that could not be established or dropped.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSubscriptionClosed is returned by Next once the transport ends the stream.
	ErrSubscriptionClosed = fmt.Errorf("%w: subscription closed", ErrSourceUnavailable)
	// ErrNotImplemented is returned when constructing a source for a chain kind
	// that is recognised but has no adapter.
	ErrNotImplemented = errors.New("chain kind not implemented")
)

// Filter selects the logs of one event emitted by one contract.
type Filter struct {
	Contract  common.Address
	Signature common.Hash
}

// Source fetches and streams contract events from a chain node.
type Source interface {
	// FetchRange returns every matching event from fromBlock up to the current
	// head, inclusive, in ascending block order.
	FetchRange(ctx context.Context, filter Filter, fromBlock uint64) ([]model.Event, error)

	// SubscribeLive opens a push subscription for events emitted from now on.
	// The subscription is not restartable; resubscribe after a failure.
	SubscribeLive(ctx context.Context, filter Filter) (Subscription, error)

	// Close releases the transport.
	Close()
}

// Subscription is a pull-based view of a live event stream.
type Subscription interface {
	// Next blocks until the next event arrives, the transport fails, or ctx is done.
	Next(ctx context.Context) (model.Event, error)

	// Close unsubscribes. It is safe to call more than once.
	Close()
}
