package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParseAddress converts a hex contract address into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseEventSignature accepts either a 0x-prefixed 32-byte topic0 hash or a
// canonical signature such as "Transfer(address,address,uint256)", which is
// hashed with keccak256.
func ParseEventSignature(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Hash{}, fmt.Errorf("event signature is empty")
	}

	if strings.HasPrefix(input, "0x") || strings.HasPrefix(input, "0X") {
		data, err := hexutil.Decode(input)
		if err != nil {
			return common.Hash{}, fmt.Errorf("invalid event signature hash %q: %w", input, err)
		}
		if len(data) != common.HashLength {
			return common.Hash{}, fmt.Errorf("invalid event signature hash length %d: %q", len(data), input)
		}
		return common.BytesToHash(data), nil
	}

	open := strings.IndexByte(input, '(')
	if open <= 0 || !strings.HasSuffix(input, ")") || strings.ContainsAny(input, " \t") {
		return common.Hash{}, fmt.Errorf("invalid event signature %q", input)
	}
	return crypto.Keccak256Hash([]byte(input)), nil
}
