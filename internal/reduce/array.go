package reduce

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/activestorage/s3-active-storage/internal/dtype"
	"github.com/activestorage/s3-active-storage/pkg/errors"
)

// Array is a typed numeric array in row-major logical order. An empty Shape
// is a scalar.
type Array struct {
	DType dtype.DType
	Shape []int
	data  any
}

// NewArray wraps values as an array of the given dtype. T must be the Go
// type backing d.
func NewArray[T dtype.Number](d dtype.DType, shape []int, values []T) Array {
	if shape == nil {
		shape = []int{len(values)}
	}
	return Array{DType: d, Shape: shape, data: values}
}

// Scalar returns a zero-dimensional array holding v.
func Scalar[T dtype.Number](d dtype.DType, v T) Array {
	return Array{DType: d, Shape: []int{}, data: []T{v}}
}

// Values returns the backing slice of a. It panics if T does not match.
func Values[T dtype.Number](a Array) []T {
	return a.data.([]T)
}

// DecodeArray decodes raw bytes into a one-dimensional array.
func DecodeArray(d dtype.DType, b []byte, order binary.ByteOrder) (Array, error) {
	k, err := kernelFor(d)
	if err != nil {
		return Array{}, err
	}
	v, err := k.decode(b, order)
	if err != nil {
		return Array{}, errors.NewDecodingError("cannot decode %d bytes as %s: %v", len(b), d, err)
	}
	return Array{DType: d, Shape: []int{k.length(v)}, data: v}, nil
}

// Len is the number of elements.
func (a Array) Len() int {
	if a.data == nil {
		return 0
	}
	return kernels[a.DType].length(a.data)
}

// Size is the element count implied by the shape.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Reshape returns a view of a with a new shape holding the same elements.
func (a Array) Reshape(shape []int) (Array, error) {
	if Size(shape) != a.Len() {
		return Array{}, errors.NewInvalidRequest(
			"cannot reshape chunk of size %d into shape %s", a.Len(), formatShape(shape))
	}
	a.Shape = slices.Clone(shape)
	return a, nil
}

// Gather returns a one-dimensional array of the elements at idx.
func (a Array) Gather(idx []int) Array {
	v := kernels[a.DType].gather(a.data, idx)
	return Array{DType: a.DType, Shape: []int{len(idx)}, data: v}
}

// Bytes serialises the elements in storage order.
func (a Array) Bytes(order binary.ByteOrder) []byte {
	if a.data == nil {
		return []byte{}
	}
	return kernels[a.DType].encode(a.data, order)
}

// Append adds b's elements to the end of a and returns the one-dimensional
// result. a's backing array is reused when it has room, so a must not be
// shared.
func Append(a, b Array) Array {
	if a.data == nil {
		return b
	}
	if b.data == nil {
		return a
	}
	k := kernels[a.DType]
	v := k.appendTo(a.data, b.data)
	return Array{DType: a.DType, Shape: []int{k.length(v)}, data: v}
}

func (a Array) String() string {
	return fmt.Sprintf("%s%s%v", a.DType, formatShape(a.Shape), a.data)
}

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "()"
	}
	s := "("
	for i, d := range shape {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprint(d)
	}
	if len(shape) == 1 {
		s += ","
	}
	return s + ")"
}
