// Package postgres stores event streams in Postgres, one table per stream.
package postgres

import (
	"context"
	"fmt"
	"math"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"logscope/internal/model"
	"logscope/internal/store"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func init() {
	store.Register(store.Backend{
		OpenWriter: func(ctx context.Context, target string) (store.Writer, error) {
			w, err := NewWriter(ctx, target)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		OpenReader: func(ctx context.Context, target string) (store.Reader, error) {
			r, err := NewReader(ctx, target)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
	}, "postgres", "postgresql")
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Writer owns one exclusive connection. It is not safe for concurrent use.
type Writer struct {
	conn *pgx.Conn
}

var _ store.Writer = (*Writer)(nil)

// NewWriter opens a dedicated connection to dsn.
func NewWriter(ctx context.Context, dsn string) (*Writer, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: pg dsn is required", store.ErrStoreUnavailable)
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, classify(ctx, "connect", err)
	}
	return &Writer{conn: conn}, nil
}

// Close closes the connection.
func (w *Writer) Close() {
	if w.conn != nil {
		_ = w.conn.Close(context.Background())
	}
}

// EnsureTable creates the stream table and its indexes if absent.
func (w *Writer) EnsureTable(ctx context.Context, stream string) error {
	return ensureTable(ctx, w.conn, stream)
}

// Insert appends one row for event.
func (w *Writer) Insert(ctx context.Context, stream string, event model.Event) error {
	return insert(ctx, w.conn, stream, event)
}

func ensureTable(ctx context.Context, db execer, stream string) error {
	if err := store.CheckStreamName(stream); err != nil {
		return err
	}
	for _, stmt := range schemaStatements(stream) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			if isCreateRace(err) {
				continue
			}
			return classify(ctx, "ensure table "+stream, err)
		}
	}
	return nil
}

func insert(ctx context.Context, db execer, stream string, event model.Event) error {
	if err := store.CheckStreamName(stream); err != nil {
		return err
	}
	if event.BlockNumber > math.MaxInt64 {
		return fmt.Errorf("%w: block number %d exceeds BIGINT", store.ErrEncoding, event.BlockNumber)
	}

	data := event.Data
	if data == nil {
		data = []byte{}
	}

	query, args, err := psql.Insert(tableName(stream)).
		Columns(colAddress, colBlockNumber, colTxHash, colTopics, colData).
		Values(
			event.Address.Hex(),
			int64(event.BlockNumber),
			event.TransactionHash.Hex(),
			event.TopicStrings(),
			data,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: build insert: %v", store.ErrEncoding, err)
	}

	if _, err := db.Exec(ctx, query, args...); err != nil {
		return classify(ctx, "insert into "+stream, err)
	}
	return nil
}
