package model

// DecodedEvent is a stored row enriched with its ABI-decoded fields.
type DecodedEvent struct {
	Stream      string                 `json:"stream"`
	ID          int64                  `json:"id"`
	BlockNumber uint64                 `json:"block_number"`
	TxHash      string                 `json:"tx_hash"`
	Address     string                 `json:"address"`
	Fields      map[string]interface{} `json:"fields"`
	Raw         *RawLogRef             `json:"raw,omitempty"`
}

// RawLogRef keeps a minimal raw reference for traceability.
type RawLogRef struct {
	Topic0 string `json:"topic0"`
	Data   string `json:"data"`
}
