package model

import "strings"

// ChainKind selects the event source variant for a unit.
type ChainKind string

const (
	// ChainKindEVM is an Ethereum Virtual Machine chain reachable over JSON-RPC.
	ChainKindEVM ChainKind = "EVM"
	// ChainKindParachain is a Substrate parachain. It is recognised but has no source.
	ChainKindParachain ChainKind = "PARACHAIN"
	// ChainKindUnknown marks an unrecognised kind.
	ChainKindUnknown ChainKind = "UNKNOWN"
)

func (k ChainKind) String() string {
	return string(k)
}

// ParseChainKind converts a config value into a ChainKind.
func ParseChainKind(s string) ChainKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ChainKindEVM):
		return ChainKindEVM
	case string(ChainKindParachain):
		return ChainKindParachain
	default:
		return ChainKindUnknown
	}
}
