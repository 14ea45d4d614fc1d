package reduce

import (
	"encoding/json"
	"slices"

	"github.com/activestorage/s3-active-storage/internal/dtype"
	"github.com/activestorage/s3-active-storage/pkg/types"
)

// Encoded is a serialised result plus the metadata sent alongside it.
type Encoded struct {
	Body  []byte
	DType dtype.DType
	Shape []int
}

// ShapeHeader renders the shape as a JSON array. Scalars render as "[]".
func (e *Encoded) ShapeHeader() string {
	b, _ := json.Marshal(e.Shape)
	return string(b)
}

// Encode serialises a in the requested element order and byte order.
func Encode(a Array, order types.Order, byteOrder dtype.ByteOrder) *Encoded {
	shape := slices.Clone(a.Shape)
	if shape == nil {
		shape = []int{}
	}

	out := a
	if order == types.ColumnMajor && len(shape) > 1 && a.Len() > 1 {
		// perm[c] is the column-major slot of row-major element c.
		perm := permutation(shape, types.ColumnMajor)
		inv := make([]int, len(perm))
		for c, f := range perm {
			inv[f] = c
		}
		out = a.Gather(inv)
	}

	return &Encoded{
		Body:  out.Bytes(byteOrder.Binary()),
		DType: a.DType,
		Shape: shape,
	}
}
