package reduce

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/activestorage/s3-active-storage/internal/dtype"
)

// kernel holds the element-type specific array primitives. Values are
// passed as []T boxed in any.
type kernel interface {
	decode(b []byte, order binary.ByteOrder) (any, error)
	encode(v any, order binary.ByteOrder) []byte
	length(v any) int
	concat(a, b any) any
	appendTo(dst, src any) any
	clip(v any) any
	gather(v any, idx []int) any
	sum(v any) any
	min(v any) any
	max(v any) any
	total(v any) exactSum
	fromFloat(f float64) any
	zero() any
}

type typed[T dtype.Number] struct{}

func (typed[T]) decode(b []byte, order binary.ByteOrder) (any, error) {
	return dtype.Decode[T](b, order)
}

func (typed[T]) encode(v any, order binary.ByteOrder) []byte {
	return dtype.Encode(v.([]T), order)
}

func (typed[T]) length(v any) int {
	return len(v.([]T))
}

func (typed[T]) concat(a, b any) any {
	x, y := a.([]T), b.([]T)
	out := make([]T, 0, len(x)+len(y))
	return append(append(out, x...), y...)
}

// appendTo appends src to dst in place, doubling dst's capacity when it runs
// out. dst must be owned by the caller.
func (typed[T]) appendTo(dst, src any) any {
	x, y := dst.([]T), src.([]T)
	if n := len(x) + len(y); n > cap(x) {
		grown := make([]T, len(x), max(n, 2*cap(x)))
		copy(grown, x)
		x = grown
	}
	return append(x, y...)
}

func (typed[T]) clip(v any) any {
	return slices.Clip(v.([]T))
}

func (typed[T]) gather(v any, idx []int) any {
	src := v.([]T)
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

// sum accumulates in T itself, so integer sums wrap like fixed-width
// hardware arithmetic.
func (typed[T]) sum(v any) any {
	var acc T
	for _, x := range v.([]T) {
		acc += x
	}
	return []T{acc}
}

// min and max propagate NaN.
func (typed[T]) min(v any) any {
	s := v.([]T)
	m := s[0]
	for _, x := range s {
		if x != x {
			return []T{x}
		}
		if x < m {
			m = x
		}
	}
	return []T{m}
}

func (typed[T]) max(v any) any {
	s := v.([]T)
	m := s[0]
	for _, x := range s {
		if x != x {
			return []T{x}
		}
		if x > m {
			m = x
		}
	}
	return []T{m}
}

// total sums into the widest type of T's kind: int64 for signed, uint64 for
// unsigned and float64 for floating point elements.
func (typed[T]) total(v any) exactSum {
	var s exactSum
	switch xs := v.(type) {
	case []int32:
		for _, x := range xs {
			s.i += int64(x)
		}
	case []int64:
		for _, x := range xs {
			s.i += x
		}
	case []uint32:
		for _, x := range xs {
			s.u += uint64(x)
		}
	case []uint64:
		for _, x := range xs {
			s.u += x
		}
	case []float32:
		for _, x := range xs {
			s.f += float64(x)
		}
	case []float64:
		for _, x := range xs {
			s.f += x
		}
	}
	return s
}

func (typed[T]) fromFloat(f float64) any {
	return []T{T(f)}
}

func (typed[T]) zero() any {
	return []T{0}
}

// exactSum is the running sum behind mean. Only the field matching the
// element kind is used.
type exactSum struct {
	i int64
	u uint64
	f float64
}

func (s exactSum) add(o exactSum) exactSum {
	return exactSum{i: s.i + o.i, u: s.u + o.u, f: s.f + o.f}
}

// div divides the sum by n as floating point.
func (s exactSum) div(d dtype.DType, n int64) float64 {
	switch d {
	case dtype.Int32, dtype.Int64:
		return float64(s.i) / float64(n)
	case dtype.Uint32, dtype.Uint64:
		return float64(s.u) / float64(n)
	}
	return s.f / float64(n)
}

var kernels = map[dtype.DType]kernel{
	dtype.Int32:   typed[int32]{},
	dtype.Int64:   typed[int64]{},
	dtype.Uint32:  typed[uint32]{},
	dtype.Uint64:  typed[uint64]{},
	dtype.Float32: typed[float32]{},
	dtype.Float64: typed[float64]{},
}

func kernelFor(d dtype.DType) (kernel, error) {
	k, ok := kernels[d]
	if !ok {
		return nil, fmt.Errorf("no kernel registered for dtype %q", string(d))
	}
	return k, nil
}
