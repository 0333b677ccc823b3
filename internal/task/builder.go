package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"logscope/internal/chain"
	"logscope/internal/chain/evm"
	"logscope/internal/config"
	"logscope/internal/indexer"
	"logscope/internal/model"
	"logscope/internal/server"
	"logscope/internal/store"
)

// openEVM is replaced in tests.
var openEVM = func(ctx context.Context, rpcURL string, opts evm.Options, logger *zap.Logger) (chain.Source, error) {
	source, err := evm.Open(ctx, rpcURL, opts, logger)
	if err != nil {
		return nil, err
	}
	return source, nil
}

type closer interface {
	Close()
}

// BuildUnits constructs every configured unit. Any construction failure is
// returned before a unit starts, and resources opened so far are released.
func BuildUnits(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]Unit, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	units := make([]Unit, 0, len(cfg.Indexers)+1)
	ok := false
	defer func() {
		if ok {
			return
		}
		for _, unit := range units {
			if c, isCloser := unit.(closer); isCloser {
				c.Close()
			}
		}
	}()

	for i, idx := range cfg.Indexers {
		stream, err := idx.Resolve()
		if err != nil {
			return nil, fmt.Errorf("indexer[%d]: %w", i, err)
		}
		unit, err := buildIndexer(ctx, stream, logger)
		if err != nil {
			return nil, fmt.Errorf("indexer %s: %w", stream.Name, err)
		}
		units = append(units, unit)
	}

	if cfg.Server.ServerURL != "" {
		reader, err := store.OpenReader(ctx, cfg.Server.StoreConnectionTarget)
		if err != nil {
			return nil, fmt.Errorf("server: open store: %w", err)
		}
		units = append(units, NewServerUnit(server.New(cfg.Server.ServerURL, reader, logger), reader))
	}

	ok = true
	return units, nil
}

func buildIndexer(ctx context.Context, stream config.Stream, logger *zap.Logger) (*IndexerUnit, error) {
	source, err := newSource(ctx, stream, logger)
	if err != nil {
		return nil, err
	}

	writer, err := store.OpenWriter(ctx, stream.StoreTarget)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	pipeline := indexer.NewPipeline(indexer.Config{
		Stream:       stream.Name,
		Filter:       stream.Filter,
		StartBlock:   stream.StartBlock,
		MaxRetries:   stream.MaxRetries,
		RetryBackoff: stream.RetryBackoff,
		Layout:       stream.Layout,
	}, source, writer, logger)

	logger.Info("indexer unit built",
		zap.String("stream", stream.Name),
		zap.Stringer("chain_kind", stream.Kind),
		zap.String("contract", stream.Filter.Contract.Hex()),
		zap.String("topic0", stream.Filter.Signature.Hex()),
		zap.Uint64("start_block", stream.StartBlock),
		zap.Uint64("batch_size", stream.BatchSize),
		zap.Bool("decode", stream.Layout != nil),
	)
	return NewIndexerUnit(stream.Name, pipeline, source, writer), nil
}

func newSource(ctx context.Context, stream config.Stream, logger *zap.Logger) (chain.Source, error) {
	switch stream.Kind {
	case model.ChainKindEVM:
		return openEVM(ctx, stream.RPCEndpoint, evm.Options{
			BatchSize: stream.BatchSize,
			RateLimit: stream.RateLimit,
		}, logger.With(zap.String("stream", stream.Name)))
	case model.ChainKindParachain:
		return nil, fmt.Errorf("%w: %s event source", chain.ErrNotImplemented, stream.Kind)
	default:
		return nil, fmt.Errorf("%w: chain kind %q", config.ErrConfigInvalid, stream.Kind)
	}
}
