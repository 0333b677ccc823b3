package postgres

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logscope/internal/model"
	"logscope/internal/store"
)

var (
	contract = common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	topic0   = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func uniqueStream() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func sampleEvent(block uint64, tx int64) model.Event {
	return model.Event{
		Address:         contract,
		BlockNumber:     block,
		TransactionHash: common.BigToHash(big.NewInt(tx)),
		Topics:          []common.Hash{topic0, common.BigToHash(big.NewInt(7))},
		Data:            []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func openPair(t *testing.T) (*Writer, *Reader) {
	dsn := requireDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w, err := NewWriter(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(w.Close)

	r, err := NewReader(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return w, r
}

func TestInsertAndQuery(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	stream := uniqueStream()

	require.NoError(t, w.EnsureTable(ctx, stream))
	require.NoError(t, w.EnsureTable(ctx, stream))

	events := []model.Event{sampleEvent(101, 1), sampleEvent(104, 2), sampleEvent(104, 3)}
	for _, event := range events {
		require.NoError(t, w.Insert(ctx, stream, event))
	}

	require.NoError(t, w.EnsureTable(ctx, stream))

	all, err := r.QueryAll(ctx, stream)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, row := range all {
		assert.Equal(t, int64(i+1), row.ID)
		assert.Equal(t, model.NewDisplayEvent(row.ID, events[i]), row)
	}

	byBlock, err := r.QueryByBlock(ctx, stream, 104)
	require.NoError(t, err)
	require.Len(t, byBlock, 2)
	assert.Less(t, byBlock[0].ID, byBlock[1].ID)

	byTx, err := r.QueryByTxHash(ctx, stream, events[0].TransactionHash)
	require.NoError(t, err)
	require.Len(t, byTx, 1)
	assert.Equal(t, uint64(101), byTx[0].BlockNumber)
	assert.Equal(t, "0xdeadbeef", byTx[0].Data)

	none, err := r.QueryByBlock(ctx, stream, 999)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDuplicatesAreKept(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	stream := uniqueStream()

	require.NoError(t, w.EnsureTable(ctx, stream))
	event := sampleEvent(5, 5)
	require.NoError(t, w.Insert(ctx, stream, event))
	require.NoError(t, w.Insert(ctx, stream, event))

	rows, err := r.QueryByTxHash(ctx, stream, event.TransactionHash)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestQueryMissingStream(t *testing.T) {
	_, r := openPair(t)
	_, err := r.QueryAll(context.Background(), uniqueStream())
	assert.ErrorIs(t, err, store.ErrSchema)
}

func TestInsertRejectsOversizedBlock(t *testing.T) {
	w, _ := openPair(t)
	ctx := context.Background()
	stream := uniqueStream()
	require.NoError(t, w.EnsureTable(ctx, stream))

	err := w.Insert(ctx, stream, sampleEvent(math.MaxUint64, 1))
	assert.ErrorIs(t, err, store.ErrEncoding)
}

func TestConcurrentEnsureTable(t *testing.T) {
	dsn := requireDSN(t)
	ctx := context.Background()
	stream := uniqueStream()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := NewWriter(ctx, dsn)
			if err != nil {
				errs <- err
				return
			}
			defer w.Close()
			errs <- w.EnsureTable(ctx, stream)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestOpenViaRegistry(t *testing.T) {
	dsn := requireDSN(t)
	w, err := store.OpenWriter(context.Background(), dsn)
	require.NoError(t, err)
	w.Close()
}

func TestUnreachableDatabase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := NewWriter(ctx, "postgres://nobody:x@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded))
}
