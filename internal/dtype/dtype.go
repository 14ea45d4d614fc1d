// Package dtype is the registry of numeric element types the proxy can decode:
// each name maps to an element width and a decoding rule.
package dtype

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
)

// DType names a flat numeric element type.
type DType string

const (
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Kind is the basic numeric family of a DType.
type Kind int

const (
	KindSigned Kind = iota
	KindUnsigned
	KindFloat
)

// Info describes how elements of a DType are laid out.
type Info struct {
	Name  DType
	Kind  Kind
	Width int
}

var registry = map[DType]Info{
	Int32:   {Name: Int32, Kind: KindSigned, Width: 4},
	Int64:   {Name: Int64, Kind: KindSigned, Width: 8},
	Uint32:  {Name: Uint32, Kind: KindUnsigned, Width: 4},
	Uint64:  {Name: Uint64, Kind: KindUnsigned, Width: 8},
	Float32: {Name: Float32, Kind: KindFloat, Width: 4},
	Float64: {Name: Float64, Kind: KindFloat, Width: 8},
}

// ordered fixes the advertisement order of supported types.
var ordered = []DType{Int32, Int64, Uint32, Uint64, Float32, Float64}

// MaxWidth is the widest element width in the registry.
const MaxWidth = 8

// Parse looks up a dtype by name.
func Parse(name string) (DType, error) {
	d := DType(name)
	if _, ok := registry[d]; !ok {
		return d, fmt.Errorf("unsupported dtype %q: must be one of %s", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// All returns every supported dtype in advertisement order.
func All() []DType {
	out := make([]DType, len(ordered))
	copy(out, ordered)
	return out
}

// Names returns the names of all supported dtypes in advertisement order.
func Names() []string {
	names := make([]string, len(ordered))
	for i, d := range ordered {
		names[i] = string(d)
	}
	return names
}

// Valid reports whether d is a registered dtype.
func (d DType) Valid() bool {
	_, ok := registry[d]
	return ok
}

// Info returns the registry entry for d. It panics for unregistered types, so
// callers validate with Parse or Valid first.
func (d DType) Info() Info {
	info, ok := registry[d]
	if !ok {
		panic(fmt.Sprintf("dtype: unregistered type %q", string(d)))
	}
	return info
}

// Width is the element width in bytes.
func (d DType) Width() int {
	return d.Info().Width
}

func (d DType) String() string {
	return string(d)
}

// UnmarshalJSON rejects names outside the registry.
func (d *DType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := Parse(s)
	if err != nil {
		return err
	}
	*d = t
	return nil
}

// ByteOrder is the byte order of the raw object bytes.
type ByteOrder string

const (
	LittleEndian ByteOrder = "little"
	BigEndian    ByteOrder = "big"
)

// ParseByteOrder accepts "little" or "big"; the empty string means little-endian.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch ByteOrder(s) {
	case "", LittleEndian:
		return LittleEndian, nil
	case BigEndian:
		return BigEndian, nil
	}
	return ByteOrder(s), fmt.Errorf("unsupported byte order %q: must be %q or %q", s, LittleEndian, BigEndian)
}

// Binary returns the encoding/binary order for b.
func (b ByteOrder) Binary() binary.ByteOrder {
	if b == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Number is the set of Go element types backing the registry.
type Number interface {
	~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Decode reinterprets raw bytes as a slice of T. The byte length must be a
// whole number of elements.
func Decode[T Number](b []byte, order binary.ByteOrder) ([]T, error) {
	var zero T
	width := binary.Size(zero)
	if len(b)%width != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of the element width %d", len(b), width)
	}
	out := make([]T, len(b)/width)
	if len(out) == 0 {
		return out, nil
	}
	if _, err := binary.Decode(b, order, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode serialises values back to raw bytes.
func Encode[T Number](values []T, order binary.ByteOrder) []byte {
	if len(values) == 0 {
		return []byte{}
	}
	out, err := binary.Append(make([]byte, 0, len(values)*binary.Size(values[0])), order, values)
	if err != nil {
		// Only reachable for non fixed-size data, which Number rules out.
		panic(err)
	}
	return out
}
