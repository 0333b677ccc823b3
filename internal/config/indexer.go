package config

import (
	"strings"
	"time"

	"logscope/internal/chain"
	"logscope/internal/chain/evm"
	"logscope/internal/decode"
	"logscope/internal/model"
	"logscope/internal/store"
)

// Stream is a validated IndexerConfig with every textual field parsed.
type Stream struct {
	Name         string
	Kind         model.ChainKind
	RPCEndpoint  string
	Filter       chain.Filter
	StartBlock   uint64
	StoreTarget  string
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    float64
	// Layout is nil when the unit has no ABI.
	Layout *decode.Layout
}

// Resolve parses and checks the unit. Failures wrap ErrConfigInvalid.
func (c IndexerConfig) Resolve() (Stream, error) {
	name := strings.TrimSpace(c.StreamName)
	if !store.ValidStreamName(name) {
		return Stream{}, invalid("stream-name %q must match [A-Za-z_][A-Za-z0-9_]{0,62}", c.StreamName)
	}

	kind := model.ParseChainKind(c.ChainKind)
	if kind == model.ChainKindUnknown {
		return Stream{}, invalid("%s: unknown chain-kind %q", name, c.ChainKind)
	}
	if strings.TrimSpace(c.RPCEndpoint) == "" {
		return Stream{}, invalid("%s: rpc-endpoint is required", name)
	}

	contract, err := evm.ParseAddress(c.ContractAddress)
	if err != nil {
		return Stream{}, invalid("%s: contract-address: %v", name, err)
	}
	signature, err := evm.ParseEventSignature(c.EventSignature)
	if err != nil {
		return Stream{}, invalid("%s: event-signature: %v", name, err)
	}

	if err := checkTarget(c.StoreConnectionTarget); err != nil {
		return Stream{}, invalid("%s: store-connection-target: %v", name, err)
	}
	if c.MaxRetries < 0 {
		return Stream{}, invalid("%s: max-retries must not be negative", name)
	}
	if c.RPCRateLimit < 0 {
		return Stream{}, invalid("%s: rpc-rate-limit must not be negative", name)
	}

	batchSize := c.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}

	var layout *decode.Layout
	if c.ABI != nil {
		layout, err = decode.NewLayout(toShape(c.ABI.Indexed), toShape(c.ABI.Body))
		if err != nil {
			return Stream{}, invalid("%s: abi: %v", name, err)
		}
	}

	return Stream{
		Name:         name,
		Kind:         kind,
		RPCEndpoint:  strings.TrimSpace(c.RPCEndpoint),
		Filter:       chain.Filter{Contract: contract, Signature: signature},
		StartBlock:   c.StartBlock,
		StoreTarget:  strings.TrimSpace(c.StoreConnectionTarget),
		BatchSize:    batchSize,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		RateLimit:    c.RPCRateLimit,
		Layout:       layout,
	}, nil
}

func toShape(fields []FieldConfig) decode.Shape {
	shape := make(decode.Shape, 0, len(fields))
	for _, f := range fields {
		shape = append(shape, decode.Field{Name: strings.TrimSpace(f.Name), Type: strings.TrimSpace(f.Type)})
	}
	return shape
}
