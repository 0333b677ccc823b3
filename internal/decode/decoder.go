// Package decode turns raw log topics and data into named fields using an
// ABI shape supplied by the caller.
package decode

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrDecode marks a payload that does not match its declared shape.
var ErrDecode = errors.New("decode error")

const wordSize = 32

// Decode is the one-shot form of NewLayout followed by Layout.Decode.
func Decode(topics []common.Hash, data []byte, indexed, body Shape) (map[string]interface{}, error) {
	layout, err := NewLayout(indexed, body)
	if err != nil {
		return nil, err
	}
	return layout.Decode(topics, data)
}

// Decode unpacks indexed values from topics[1:] and body values from data.
// topics[0] must be present; it is the event signature hash.
func (l *Layout) Decode(topics []common.Hash, data []byte) (map[string]interface{}, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: missing topic0", ErrDecode)
	}
	if len(topics)-1 != len(l.indexed) {
		return nil, fmt.Errorf("%w: expected %d topics, got %d", ErrDecode, len(l.indexed)+1, len(topics))
	}
	if len(data)%wordSize != 0 {
		return nil, fmt.Errorf("%w: data length %d is not a multiple of %d", ErrDecode, len(data), wordSize)
	}

	out := make(map[string]interface{}, len(l.indexed)+len(l.body))
	if len(l.indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(out, l.indexed, topics[1:]); err != nil {
			return nil, fmt.Errorf("%w: parse topics: %v", ErrDecode, err)
		}
	}
	if err := l.body.UnpackIntoMap(out, data); err != nil {
		return nil, fmt.Errorf("%w: unpack data: %v", ErrDecode, err)
	}
	return out, nil
}

// Stringify renders decoded values in JSON-safe text form: integers as
// decimal strings, addresses and hashes as hex.
func Stringify(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		out[name] = stringifyValue(value)
	}
	return out
}

func stringifyValue(value interface{}) interface{} {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil
		}
		return v.String()
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case [32]byte:
		return common.Hash(v).Hex()
	case []byte:
		return hexutil.Encode(v)
	case string, bool:
		return v
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
