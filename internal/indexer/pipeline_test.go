package indexer

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"logscope/internal/chain"
	"logscope/internal/decode"
	"logscope/internal/model"
	"logscope/internal/store"
	"logscope/internal/store/jsonl"
)

var (
	contract    = common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	transferSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	testFilter  = chain.Filter{Contract: contract, Signature: transferSig}
)

func transferEvent(t *testing.T, block uint64) model.Event {
	t.Helper()
	uint256, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	data, err := abi.Arguments{{Type: uint256}}.Pack(big.NewInt(int64(block)))
	require.NoError(t, err)

	return model.Event{
		Address:         contract,
		BlockNumber:     block,
		TransactionHash: common.BigToHash(big.NewInt(int64(block))),
		Topics: []common.Hash{
			transferSig,
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
			common.BytesToHash(common.HexToAddress("0x02").Bytes()),
		},
		Data: data,
	}
}

func transferLayout(t *testing.T) *decode.Layout {
	t.Helper()
	layout, err := decode.NewLayout(
		decode.Shape{{Name: "from", Type: "address"}, {Name: "to", Type: "address"}},
		decode.Shape{{Name: "value", Type: "uint256"}},
	)
	require.NoError(t, err)
	return layout
}

func runAsync(ctx context.Context, p *Pipeline) <-chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not return")
		return nil
	}
}

func TestPipelineBackfillThenLive(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	dir := t.TempDir()
	writer, err := jsonl.NewWriter(dir)
	require.NoError(t, err)
	defer writer.Close()

	source := newFakeSource(transferEvent(t, 99), transferEvent(t, 101), transferEvent(t, 104))
	p := NewPipeline(Config{Stream: "transfers", Filter: testFilter, StartBlock: 100}, source, writer, zaptest.NewLogger(t))
	assert.Equal(t, StateCreated, p.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, p)

	<-source.subscribed
	reader := jsonl.NewReader(dir)
	backfilled, err := reader.QueryAll(context.Background(), "transfers")
	require.NoError(t, err)
	require.Len(t, backfilled, 2)
	assert.Equal(t, uint64(101), backfilled[0].BlockNumber)
	assert.Equal(t, uint64(104), backfilled[1].BlockNumber)

	source.live <- transferEvent(t, 106)

	require.Eventually(t, func() bool {
		rows, err := reader.QueryAll(context.Background(), "transfers")
		return err == nil && len(rows) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateSubscribing, p.State())

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StateStopped, p.State())
	assert.True(t, source.closed())

	rows, err := reader.QueryAll(context.Background(), "transfers")
	require.NoError(t, err)
	blocks := []uint64{rows[0].BlockNumber, rows[1].BlockNumber, rows[2].BlockNumber}
	ids := []int64{rows[0].ID, rows[1].ID, rows[2].ID}
	assert.Equal(t, []uint64{101, 104, 106}, blocks)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestPipelineSkipsUndecodableEvents(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	bad := transferEvent(t, 102)
	bad.Topics = bad.Topics[:1]
	short := transferEvent(t, 103)
	short.Data = short.Data[:10]

	source := newFakeSource(transferEvent(t, 101), bad, short, transferEvent(t, 104))
	writer := &fakeWriter{}
	p := NewPipeline(Config{Stream: "transfers", Filter: testFilter, Layout: transferLayout(t)}, source, writer, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, p)

	<-source.subscribed
	cancel()
	require.NoError(t, waitDone(t, done))

	rows := writer.snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(101), rows[0].BlockNumber)
	assert.Equal(t, uint64(104), rows[1].BlockNumber)
}

func TestPipelineWithoutLayoutStoresEverything(t *testing.T) {
	bad := transferEvent(t, 102)
	bad.Topics = bad.Topics[:1]
	source := newFakeSource(bad)
	writer := &fakeWriter{}
	p := NewPipeline(Config{Stream: "s", Filter: testFilter}, source, writer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, p)
	<-source.subscribed
	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, writer.count())
}

func TestPipelineCancelDuringBackfillIsClean(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := newFakeSource(transferEvent(t, 1))
	writer := &fakeWriter{}
	p := NewPipeline(Config{Stream: "s", Filter: testFilter}, source, writer, nil)

	assert.NoError(t, p.Run(ctx))
	assert.Equal(t, StateStopped, p.State())
	assert.Zero(t, writer.count())
}

func TestPipelineSourceUnavailableFails(t *testing.T) {
	source := newFakeSource()
	source.fetchErrs = []error{chain.ErrSourceUnavailable}
	p := NewPipeline(Config{Stream: "s", Filter: testFilter}, source, &fakeWriter{}, zaptest.NewLogger(t))

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, chain.ErrSourceUnavailable)
	assert.Equal(t, StateFailed, p.State())
}

func TestPipelineRetriesBackfill(t *testing.T) {
	source := newFakeSource(transferEvent(t, 5))
	source.fetchErrs = []error{chain.ErrSourceUnavailable}
	writer := &fakeWriter{}
	p := NewPipeline(Config{Stream: "s", Filter: testFilter, MaxRetries: 1, RetryBackoff: time.Millisecond}, source, writer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, p)
	<-source.subscribed
	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 2, source.fetchCalls)
	assert.Equal(t, 1, writer.count())
}

func TestPipelineSubscribeFailure(t *testing.T) {
	source := newFakeSource(transferEvent(t, 5))
	source.subErr = chain.ErrSourceUnavailable
	writer := &fakeWriter{}
	p := NewPipeline(Config{Stream: "s", Filter: testFilter}, source, writer, nil)

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, chain.ErrSourceUnavailable)
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, 1, writer.count())
}

func TestPipelineInsertFailureAborts(t *testing.T) {
	source := newFakeSource(transferEvent(t, 1), transferEvent(t, 2), transferEvent(t, 3))
	writer := &fakeWriter{insertErr: store.ErrStoreUnavailable, failAfter: 1}
	p := NewPipeline(Config{Stream: "s", Filter: testFilter}, source, writer, nil)

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, 1, writer.count())
}

func TestPipelineEnsureTableFailure(t *testing.T) {
	source := newFakeSource()
	writer := &fakeWriter{ensureErr: store.ErrSchema}
	p := NewPipeline(Config{Stream: "s", Filter: testFilter}, source, writer, nil)

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, store.ErrSchema)
	assert.Zero(t, source.fetchCalls)
}

func TestPipelineLiveStreamEnds(t *testing.T) {
	source := newFakeSource()
	p := NewPipeline(Config{Stream: "s", Filter: testFilter}, source, &fakeWriter{}, nil)

	done := runAsync(context.Background(), p)
	<-source.subscribed
	close(source.live)

	err := waitDone(t, done)
	assert.True(t, errors.Is(err, chain.ErrSubscriptionClosed))
	assert.Equal(t, StateFailed, p.State())
}

func TestPipelineNilDependencies(t *testing.T) {
	p := NewPipeline(Config{Stream: "s"}, nil, &fakeWriter{}, nil)
	assert.Error(t, p.Run(context.Background()))
	assert.Equal(t, StateFailed, p.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "backfilling", StateBackfilling.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSubscribing.Terminal())
}
