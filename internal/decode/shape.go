package decode

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Field is one named ABI parameter, e.g. {Name: "value", Type: "uint256"}.
type Field struct {
	Name string
	Type string
}

// Shape is an ordered ABI tuple layout.
type Shape []Field

// Layout is a validated pair of indexed and body shapes ready for decoding.
type Layout struct {
	indexed abi.Arguments
	body    abi.Arguments
}

// NewLayout validates both shapes. Field names must be unique across the pair;
// empty names default to argN by position.
func NewLayout(indexed, body Shape) (*Layout, error) {
	seen := make(map[string]struct{}, len(indexed)+len(body))

	indexedArgs, err := indexed.arguments(true, 0, seen)
	if err != nil {
		return nil, err
	}
	bodyArgs, err := body.arguments(false, len(indexed), seen)
	if err != nil {
		return nil, err
	}

	return &Layout{indexed: indexedArgs, body: bodyArgs}, nil
}

// IndexedCount returns the number of indexed parameters, i.e. topics after topic0.
func (l *Layout) IndexedCount() int {
	return len(l.indexed)
}

func (s Shape) arguments(indexed bool, offset int, seen map[string]struct{}) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(s))
	for i, field := range s {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			name = fmt.Sprintf("arg%d", offset+i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate field name %q", ErrDecode, name)
		}
		seen[name] = struct{}{}

		typ, err := abi.NewType(strings.TrimSpace(field.Type), "", nil)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrDecode, name, err)
		}
		if err := checkWidths(typ); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrDecode, name, err)
		}
		if indexed && typ.T == abi.TupleTy {
			return nil, fmt.Errorf("%w: field %q: tuple cannot be indexed", ErrDecode, name)
		}
		args = append(args, abi.Argument{Name: name, Type: typ, Indexed: indexed})
	}
	return args, nil
}

// checkWidths rejects sizes abi.NewType lets through, like uint257 or int7.
func checkWidths(typ abi.Type) error {
	switch typ.T {
	case abi.IntTy, abi.UintTy:
		if typ.Size < 8 || typ.Size > 256 || typ.Size%8 != 0 {
			return fmt.Errorf("invalid integer width %d in %s", typ.Size, typ.String())
		}
	case abi.FixedBytesTy:
		if typ.Size < 1 || typ.Size > 32 {
			return fmt.Errorf("invalid fixed bytes size %d in %s", typ.Size, typ.String())
		}
	case abi.SliceTy, abi.ArrayTy:
		if typ.Elem != nil {
			return checkWidths(*typ.Elem)
		}
	case abi.TupleTy:
		for _, elem := range typ.TupleElems {
			if elem == nil {
				continue
			}
			if err := checkWidths(*elem); err != nil {
				return err
			}
		}
	}
	return nil
}
