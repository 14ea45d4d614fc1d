// Package plan turns a validated request into the ordered list of HTTP byte
// ranges that must be fetched from the upstream object.
package plan

import (
	"fmt"
	"math"

	"github.com/activestorage/s3-active-storage/pkg/errors"
	"github.com/activestorage/s3-active-storage/pkg/types"
)

// ByteRange is an inclusive span of object bytes. When Open is set the range
// runs to the end of the object and End is ignored.
type ByteRange struct {
	Start int64
	End   int64
	Open  bool
}

// Header renders the range in HTTP Range header form.
func (r ByteRange) Header() string {
	if r.Open {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Len is the number of bytes covered, or -1 for open ranges.
func (r ByteRange) Len() int64 {
	if r.Open {
		return -1
	}
	return r.End - r.Start + 1
}

// Whole reports whether the range covers the entire object.
func (r ByteRange) Whole() bool {
	return r.Open && r.Start == 0
}

func (r ByteRange) String() string {
	return r.Header()
}

// Plan is the output of the planner.
type Plan struct {
	Ranges []ByteRange

	// Selection is set when the ranges address individually selected elements.
	Selection bool

	// Shape is the shape of the selected sub-array, in row-major iteration
	// order of the selection's Cartesian product. Only set in selection mode.
	Shape []int
}

// MaxSelectedElements caps the number of elements one selection may address.
// Each selected element costs one upstream range request.
const MaxSelectedElements = 1 << 20

// Build plans the byte ranges for spec. spec must already be validated.
func Build(spec *types.RequestSpec) (*Plan, error) {
	var start int64
	if spec.Offset != nil {
		start = *spec.Offset
	}
	width := int64(spec.Width())

	limit := int64(-1)
	if spec.Size != nil {
		if *spec.Size > math.MaxInt64-start {
			return nil, errors.NewInvalidRequest("offset %d plus size %d overflows the addressable object size", start, *spec.Size)
		}
		limit = start + *spec.Size
	}
	if spec.Shape != nil {
		n, err := Elements(spec.Shape)
		if err != nil {
			return nil, err
		}
		if n > (math.MaxInt64-start)/width {
			return nil, errors.NewInvalidRequest("shape %v of dtype %s at offset %d overflows the addressable object size", spec.Shape, spec.DType, start)
		}
	}

	if spec.Selection == nil {
		r := ByteRange{Start: start, Open: true}
		if limit >= 0 {
			r = ByteRange{Start: start, End: limit - 1}
		}
		return &Plan{Ranges: []ByteRange{r}}, nil
	}

	_, total, err := selectionCounts(spec.Shape, spec.Selection)
	if err != nil {
		return nil, err
	}
	if total > MaxSelectedElements {
		return nil, errors.NewInvalidRequest("selection addresses %d elements, more than the %d allowed", total, MaxSelectedElements)
	}

	indices, counts, err := LinearIndices(spec.Shape, spec.Order, spec.Selection)
	if err != nil {
		return nil, err
	}

	// The shape check above keeps every offset below MaxInt64.
	ranges := make([]ByteRange, 0, len(indices))
	for _, idx := range indices {
		off := start + int64(idx)*width
		if limit >= 0 && off+width > limit {
			continue
		}
		ranges = append(ranges, ByteRange{Start: off, End: off + width - 1})
	}

	shape := counts
	if len(ranges) != len(indices) {
		shape = []int{len(ranges)}
	}
	return &Plan{Ranges: ranges, Selection: true, Shape: shape}, nil
}

// Expand lists the indices denoted by one selection triple against a
// dimension of the given extent. Indices outside [0, extent) are rejected
// rather than clamped.
func Expand(s types.Slice, extent, dim int) ([]int, error) {
	n, err := count(s, extent, dim)
	if err != nil {
		return nil, err
	}
	out := make([]int, n)
	for k := range out {
		out[k] = s.Start + k*s.Stride
	}
	return out, nil
}

// count is the number of indices s denotes, found without enumerating them.
func count(s types.Slice, extent, dim int) (int, error) {
	if s.Stride < 1 {
		return 0, errors.NewInvalidRequest("selection[%d]: stride must be greater than or equal to 1, got %d", dim, s.Stride)
	}
	if s.Start < 0 || s.Stop < 0 {
		return 0, errors.NewInvalidRequest("selection[%d]: start and stop must not be negative", dim)
	}
	if s.Stop <= s.Start {
		return 0, nil
	}

	n := 0
	if hi := min(s.Stop, extent); hi > s.Start {
		n = (hi-s.Start-1)/s.Stride + 1
	}
	// Index n exists when n*Stride <= Stop-Start-1, and it is past extent.
	if n <= (s.Stop-s.Start-1)/s.Stride {
		return 0, errors.NewInvalidRequest(
			"selection[%d] index %d is out of bounds for dimension %d with size %d", dim, s.Start+n*s.Stride, dim, extent)
	}
	return n, nil
}

// Elements is the number of elements in shape.
func Elements(shape []int) (int64, error) {
	total := int64(1)
	for _, n := range shape {
		next, ok := mul(total, int64(n))
		if !ok || next > math.MaxInt {
			return 0, shapeOverflow(shape)
		}
		total = next
	}
	return total, nil
}

// Strides returns the element stride of each dimension for the given order.
// Row-major: the last dimension varies fastest. Column-major: the first does.
func Strides(shape []int, order types.Order) ([]int, error) {
	if _, err := Elements(shape); err != nil {
		return nil, err
	}
	strides := make([]int, len(shape))
	acc := 1
	if order == types.ColumnMajor {
		for d := 0; d < len(shape); d++ {
			strides[d] = acc
			acc *= shape[d]
		}
		return strides, nil
	}
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}
	return strides, nil
}

// Ravel converts a multi-index into a flat element index.
func Ravel(index, shape []int, order types.Order) (int, error) {
	strides, err := Strides(shape, order)
	if err != nil {
		return 0, err
	}
	flat := 0
	for d, i := range index {
		flat += i * strides[d]
	}
	return flat, nil
}

// selectionCounts returns the number of indices selected per dimension and
// their product.
func selectionCounts(shape []int, selection []types.Slice) ([]int, int64, error) {
	if len(selection) != len(shape) {
		return nil, 0, errors.NewInvalidRequest("Selection parameter list must have same number of elements as shape parameter")
	}
	counts := make([]int, len(shape))
	for d, s := range selection {
		n, err := count(s, shape[d], d)
		if err != nil {
			return nil, 0, err
		}
		counts[d] = n
	}
	// Counts never exceed the shape, so the product fits once the shape does.
	total, err := Elements(counts)
	if err != nil {
		return nil, 0, err
	}
	return counts, total, nil
}

// LinearIndices expands a selection against shape and returns the flat index
// of every selected element, in the iteration order of the Cartesian product
// of the per-dimension index lists (last dimension fastest), along with the
// number of indices selected per dimension.
func LinearIndices(shape []int, order types.Order, selection []types.Slice) ([]int, []int, error) {
	counts, total, err := selectionCounts(shape, selection)
	if err != nil {
		return nil, nil, err
	}
	strides, err := Strides(shape, order)
	if err != nil {
		return nil, nil, err
	}

	out := make([]int, 0, total)
	if total == 0 {
		return out, counts, nil
	}

	axes := make([][]int, len(shape))
	for d, s := range selection {
		if axes[d], err = Expand(s, shape[d], d); err != nil {
			return nil, nil, err
		}
	}

	pos := make([]int, len(shape))
	for {
		flat := 0
		for d := range pos {
			flat += axes[d][pos[d]] * strides[d]
		}
		out = append(out, flat)

		d := len(pos) - 1
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < len(axes[d]) {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return out, counts, nil
		}
	}
}

// mul multiplies two non-negative values, reporting false on overflow.
func mul(a, b int64) (int64, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

func shapeOverflow(shape []int) error {
	return errors.NewInvalidRequest("shape %v has more elements than can be addressed", shape)
}

// Coalesce merges runs of adjacent closed ranges into single ranges. The
// bytes covered and their order are unchanged.
func Coalesce(ranges []ByteRange) []ByteRange {
	if len(ranges) < 2 {
		return ranges
	}
	out := make([]ByteRange, 0, len(ranges))
	cur := ranges[0]
	for _, r := range ranges[1:] {
		if !cur.Open && !r.Open && r.Start == cur.End+1 {
			cur.End = r.End
			continue
		}
		out = append(out, cur)
		cur = r
	}
	return append(out, cur)
}
