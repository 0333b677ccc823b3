package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"logscope/internal/chain"
	"logscope/internal/chain/evm"
	"logscope/internal/config"
	"logscope/internal/indexer"
	"logscope/internal/model"
	_ "logscope/internal/store/jsonl"
)

type stubSource struct {
	closed bool
}

func (s *stubSource) FetchRange(context.Context, chain.Filter, uint64) ([]model.Event, error) {
	return nil, nil
}

func (s *stubSource) SubscribeLive(context.Context, chain.Filter) (chain.Subscription, error) {
	return stubSubscription{}, nil
}

func (s *stubSource) Close() { s.closed = true }

type stubSubscription struct{}

func (stubSubscription) Next(ctx context.Context) (model.Event, error) {
	<-ctx.Done()
	return model.Event{}, ctx.Err()
}

func (stubSubscription) Close() {}

func stubEVM(t *testing.T) *[]*stubSource {
	t.Helper()
	opened := make([]*stubSource, 0)
	prev := openEVM
	openEVM = func(context.Context, string, evm.Options, *zap.Logger) (chain.Source, error) {
		s := &stubSource{}
		opened = append(opened, s)
		return s, nil
	}
	t.Cleanup(func() { openEVM = prev })
	return &opened
}

func indexerConfig(name, kind, target string) config.IndexerConfig {
	return config.IndexerConfig{
		StreamName:            name,
		ChainKind:             kind,
		RPCEndpoint:           "ws://localhost:8546",
		ContractAddress:       "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
		EventSignature:        "Transfer(address,address,uint256)",
		StoreConnectionTarget: target,
	}
}

func TestBuildAndRunUnits(t *testing.T) {
	stubEVM(t)
	target := "jsonl://" + t.TempDir()
	cfg := config.Config{
		Server: config.ServerConfig{ServerURL: "127.0.0.1:0", StoreConnectionTarget: target},
		Indexers: []config.IndexerConfig{
			indexerConfig("transfers", "EVM", target),
			indexerConfig("approvals", "evm", target),
		},
	}

	units, err := BuildUnits(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "indexer/transfers", units[0].Name())
	assert.Equal(t, "server", units[2].Name())

	shutdown := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- NewSupervisor(zaptest.NewLogger(t)).Run(context.Background(), units, shutdown)
	}()

	first := units[0].(*IndexerUnit)
	require.Eventually(t, func() bool {
		return first.State() == indexer.StateSubscribing
	}, 5*time.Second, 10*time.Millisecond)

	close(shutdown)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatalf("units did not stop")
	}
	assert.Equal(t, indexer.StateStopped, first.State())
}

func TestBuildParachainNotImplemented(t *testing.T) {
	opened := stubEVM(t)
	target := "jsonl://" + t.TempDir()
	cfg := config.Config{Indexers: []config.IndexerConfig{
		indexerConfig("first", "EVM", target),
		indexerConfig("relay", "PARACHAIN", target),
	}}

	_, err := BuildUnits(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, chain.ErrNotImplemented))
	require.Len(t, *opened, 1)
	assert.True(t, (*opened)[0].closed)
}

func TestBuildInvalidUnit(t *testing.T) {
	stubEVM(t)
	bad := indexerConfig("t", "EVM", "jsonl:///tmp/x")
	bad.ContractAddress = "nope"

	_, err := BuildUnits(context.Background(), config.Config{Indexers: []config.IndexerConfig{bad}}, nil)
	assert.ErrorIs(t, err, config.ErrConfigInvalid)
}

func TestBuildUnknownStoreScheme(t *testing.T) {
	opened := stubEVM(t)
	cfg := config.Config{Indexers: []config.IndexerConfig{
		indexerConfig("t", "EVM", "mysql://localhost/events"),
	}}

	_, err := BuildUnits(context.Background(), cfg, nil)
	assert.Error(t, err)
	require.Len(t, *opened, 1)
	assert.True(t, (*opened)[0].closed)
}
