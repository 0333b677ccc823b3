package model

// DecodeError records a decode failure for a stored row.
type DecodeError struct {
	Stream      string `json:"stream"`
	ID          int64  `json:"id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}
