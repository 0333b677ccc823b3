package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"logscope/internal/store"
)

const (
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
	codeDuplicateTable  = "42P07"
	codeUniqueViolation = "23505"
	classDataException  = "22"
)

// classify maps a driver error onto the store sentinels. Cancellation is
// returned as is.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUndefinedTable, pgErr.Code == codeUndefinedColumn:
			return fmt.Errorf("%w: %s: %s", store.ErrSchema, op, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, classDataException):
			return fmt.Errorf("%w: %s: %s", store.ErrEncoding, op, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %s: %v", store.ErrStoreUnavailable, op, err)
}

// isCreateRace reports errors raised when two sessions create the same table
// concurrently despite IF NOT EXISTS.
func isCreateRace(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeDuplicateTable || pgErr.Code == codeUniqueViolation
}
