package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	colID          = "id"
	colAddress     = "address"
	colBlockNumber = "block_number"
	colTxHash      = "transaction_hash"
	colTopics      = "topics"
	colData        = "data"
)

var selectColumns = []string{colID, colAddress, colBlockNumber, colTxHash, colTopics, colData}

func tableName(stream string) string {
	return pgx.Identifier{stream}.Sanitize()
}

// schemaStatements returns the DDL for a stream table. Event identity is not
// unique: the same log may be stored more than once.
func schemaStatements(stream string) []string {
	table := tableName(stream)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s BIGSERIAL PRIMARY KEY,
			%s TEXT NOT NULL,
			%s BIGINT NOT NULL,
			%s TEXT NOT NULL,
			%s TEXT[] NOT NULL,
			%s BYTEA NOT NULL
		)`, table, colID, colAddress, colBlockNumber, colTxHash, colTopics, colData),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
			pgx.Identifier{stream + "_tx_idx"}.Sanitize(), table, colTxHash),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
			pgx.Identifier{stream + "_block_idx"}.Sanitize(), table, colBlockNumber),
	}
}
