// Package values decodes the type-tagged plaintext entries carried by oracle callbacks.
package values

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownTypeCode = errors.New("unknown type code")
	ErrMalformedValue  = errors.New("malformed value")
	ErrTypeMismatch    = errors.New("type mismatch")
)

// TriviallyWrappedFlag marks a plaintext that was wrapped for transport rather than decrypted.
const TriviallyWrappedFlag uint8 = 0x80

type Kind uint8

const (
	KindBool Kind = iota
	KindUint
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindUint:
		return "uint"
	default:
		return "unknown"
	}
}

// Descriptor is the semantic type of a value: its kind and, for unsigned kinds, its bit width.
type Descriptor struct {
	Kind Kind  `json:"kind"`
	Bits uint8 `json:"bits"`
}

var (
	Bool   = Descriptor{Kind: KindBool, Bits: 1}
	Uint8  = Descriptor{Kind: KindUint, Bits: 8}
	Uint16 = Descriptor{Kind: KindUint, Bits: 16}
	Uint32 = Descriptor{Kind: KindUint, Bits: 32}
	Uint64 = Descriptor{Kind: KindUint, Bits: 64}
)

func (d Descriptor) String() string {
	if d.Kind == KindBool {
		return "bool"
	}
	return fmt.Sprintf("uint%d", d.Bits)
}

// base type codes, without the trivially wrapped flag
var descriptorsByCode = map[uint8]Descriptor{
	0: Bool,
	1: Uint64,
	2: Uint32,
	3: Uint16,
	4: Uint8,
}

type Encoding uint8

const (
	EncodingDecrypted Encoding = iota
	EncodingTriviallyWrapped
)

func (e Encoding) String() string {
	if e == EncodingTriviallyWrapped {
		return "trivial"
	}
	return "decrypted"
}

// Raw is one callback entry as it travels on the wire. Type is wider than a
// type code so an out of range code still reaches DecodeAll and is rejected there.
type Raw struct {
	Data uint64 `json:"data"`
	Type uint64 `json:"valueType"`
}

// TypedValue is an immutable plaintext scalar tagged with its semantic type.
type TypedValue struct {
	magnitude  uint64
	descriptor Descriptor
	encoding   Encoding
}

func (v TypedValue) Magnitude() uint64 {
	return v.magnitude
}

func (v TypedValue) Descriptor() Descriptor {
	return v.descriptor
}

func (v TypedValue) Encoding() Encoding {
	return v.encoding
}

func (v TypedValue) String() string {
	return fmt.Sprintf("%s(%d, %s)", v.descriptor, v.magnitude, v.encoding)
}

// Decode maps a type code to its descriptor and encoding and checks that
// the magnitude fits the described type.
func Decode(magnitude uint64, code uint8) (TypedValue, error) {
	encoding := EncodingDecrypted
	if code&TriviallyWrappedFlag != 0 {
		encoding = EncodingTriviallyWrapped
	}
	descriptor, ok := descriptorsByCode[code&^TriviallyWrappedFlag]
	if !ok {
		return TypedValue{}, fmt.Errorf("%w: %d", ErrUnknownTypeCode, code)
	}

	switch descriptor.Kind {
	case KindBool:
		if magnitude > 1 {
			return TypedValue{}, fmt.Errorf("%w: bool magnitude %d", ErrMalformedValue, magnitude)
		}
	case KindUint:
		if descriptor.Bits < 64 && magnitude>>descriptor.Bits != 0 {
			return TypedValue{}, fmt.Errorf("%w: %d does not fit %s", ErrMalformedValue, magnitude, descriptor)
		}
	}

	return TypedValue{
		magnitude:  magnitude,
		descriptor: descriptor,
		encoding:   encoding,
	}, nil
}

// DecodeAll decodes a whole callback payload, failing on the first bad entry.
func DecodeAll(payload []Raw) ([]TypedValue, error) {
	decoded := make([]TypedValue, 0, len(payload))
	for i, raw := range payload {
		if raw.Type > math.MaxUint8 {
			return nil, fmt.Errorf("entry %d: %w: %d", i, ErrUnknownTypeCode, raw.Type)
		}
		v, err := Decode(raw.Data, uint8(raw.Type))
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		decoded = append(decoded, v)
	}
	return decoded, nil
}

// TypeCode returns the wire code for a descriptor and encoding.
func TypeCode(descriptor Descriptor, encoding Encoding) (uint8, error) {
	for code, d := range descriptorsByCode {
		if d != descriptor {
			continue
		}
		if encoding == EncodingTriviallyWrapped {
			code |= TriviallyWrappedFlag
		}
		return code, nil
	}
	return 0, fmt.Errorf("%w: no code for %s", ErrUnknownTypeCode, descriptor)
}

func AsBool(v TypedValue) (bool, error) {
	if v.descriptor.Kind != KindBool {
		return false, fmt.Errorf("%w: want bool, got %s", ErrTypeMismatch, v.descriptor)
	}
	return v.magnitude == 1, nil
}

func AsUint(v TypedValue) (uint64, error) {
	if v.descriptor.Kind != KindUint {
		return 0, fmt.Errorf("%w: want uint, got %s", ErrTypeMismatch, v.descriptor)
	}
	return v.magnitude, nil
}
