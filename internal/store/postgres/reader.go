package postgres

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"logscope/internal/model"
	"logscope/internal/store"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Reader serves queries from a connection pool shared by request handlers.
type Reader struct {
	pool *pgxpool.Pool
}

var _ store.Reader = (*Reader)(nil)

// NewReader opens a pool to dsn and verifies it with a ping.
func NewReader(ctx context.Context, dsn string) (*Reader, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: pg dsn is required", store.ErrStoreUnavailable)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, classify(ctx, "open pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(ctx, "ping", err)
	}
	return &Reader{pool: pool}, nil
}

func (r *Reader) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func (r *Reader) QueryAll(ctx context.Context, stream string) ([]model.DisplayEvent, error) {
	return queryEvents(ctx, r.pool, stream, nil)
}

func (r *Reader) QueryByTxHash(ctx context.Context, stream string, hash common.Hash) ([]model.DisplayEvent, error) {
	return queryEvents(ctx, r.pool, stream, sq.Eq{colTxHash: strings.ToLower(hash.Hex())})
}

func (r *Reader) QueryByBlock(ctx context.Context, stream string, block uint64) ([]model.DisplayEvent, error) {
	if block > 1<<63-1 {
		return []model.DisplayEvent{}, nil
	}
	return queryEvents(ctx, r.pool, stream, sq.Eq{colBlockNumber: int64(block)})
}

func queryEvents(ctx context.Context, db querier, stream string, where sq.Sqlizer) ([]model.DisplayEvent, error) {
	if err := store.CheckStreamName(stream); err != nil {
		return nil, err
	}

	builder := psql.Select(selectColumns...).From(tableName(stream)).OrderBy(colID + " ASC")
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build query: %v", store.ErrEncoding, err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, "query "+stream, err)
	}
	defer rows.Close()

	events := make([]model.DisplayEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "query "+stream, err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (model.DisplayEvent, error) {
	var (
		id          int64
		address     string
		blockNumber int64
		txHash      string
		topics      []string
		data        []byte
	)
	if err := row.Scan(&id, &address, &blockNumber, &txHash, &topics, &data); err != nil {
		return model.DisplayEvent{}, fmt.Errorf("%w: scan row: %v", store.ErrSchema, err)
	}
	if blockNumber < 0 {
		return model.DisplayEvent{}, fmt.Errorf("%w: negative block number in row %d", store.ErrEncoding, id)
	}

	event := model.Event{
		Address:         common.HexToAddress(address),
		BlockNumber:     uint64(blockNumber),
		TransactionHash: common.HexToHash(txHash),
		Topics:          make([]common.Hash, 0, len(topics)),
		Data:            data,
	}
	for _, topic := range topics {
		event.Topics = append(event.Topics, common.HexToHash(topic))
	}
	return model.NewDisplayEvent(id, event), nil
}
