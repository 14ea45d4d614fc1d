package types

import (
	"encoding/json"
	"fmt"

	"github.com/activestorage/s3-active-storage/internal/dtype"
	"github.com/activestorage/s3-active-storage/pkg/errors"
)

// Order is the element order used to interpret a flat buffer as a shaped array.
type Order string

const (
	RowMajor    Order = "C"
	ColumnMajor Order = "F"
)

// ParseOrder accepts the single-letter forms and their spelled-out names. The
// empty string means row-major.
func ParseOrder(s string) (Order, bool) {
	switch s {
	case "", "C", "row-major":
		return RowMajor, true
	case "F", "column-major":
		return ColumnMajor, true
	}
	return Order(s), false
}

// Slice is one [start, stop, stride] selection triple. Stop is exclusive.
type Slice struct {
	Start  int
	Stop   int
	Stride int
}

// MarshalJSON writes the triple form.
func (s Slice) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{s.Start, s.Stop, s.Stride})
}

// UnmarshalJSON reads a triple of non-negative integers.
func (s *Slice) UnmarshalJSON(b []byte) error {
	var parts []int
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("selection entries must be lists of 3 integers: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("selection entries must have exactly 3 integers, got %d", len(parts))
	}
	for _, p := range parts {
		if p < 0 {
			return fmt.Errorf("selection values must be greater than or equal to 0, got %d", p)
		}
	}
	*s = Slice{Start: parts[0], Stop: parts[1], Stride: parts[2]}
	return nil
}

// RequestSpec describes one reduction over a region of an upstream object.
type RequestSpec struct {
	Source    string          `json:"source"`
	Bucket    string          `json:"bucket"`
	Object    string          `json:"object"`
	DType     dtype.DType     `json:"dtype"`
	ByteOrder dtype.ByteOrder `json:"byte_order,omitempty"`
	Offset    *int64          `json:"offset,omitempty"`
	Size      *int64          `json:"size,omitempty"`
	Shape     []int           `json:"shape,omitempty"`
	Order     Order           `json:"order,omitempty"`
	Selection []Slice         `json:"selection,omitempty"`
}

// Validate checks the request before any upstream call is made and normalises
// defaulted fields (order, byte order). Failures are client request errors.
func (r *RequestSpec) Validate() error {
	if !r.DType.Valid() {
		return errors.NewInvalidRequest("dtype %q is not supported: must be one of %v", string(r.DType), dtype.Names())
	}
	if r.Source == "" {
		return errors.NewInvalidRequest("source: field required")
	}
	if r.Bucket == "" {
		return errors.NewInvalidRequest("bucket: field required")
	}
	if r.Object == "" {
		return errors.NewInvalidRequest("object: field required")
	}

	bo, err := dtype.ParseByteOrder(string(r.ByteOrder))
	if err != nil {
		return errors.NewInvalidRequest("%s", err.Error())
	}
	r.ByteOrder = bo

	width := int64(r.DType.Width())
	if r.Offset != nil && (*r.Offset < 0 || *r.Offset%width != 0) {
		return errors.NewInvalidRequest(
			"Offset parameter must be divisible by number of bytes in dtype (i.e. %d for dtype %s). Given offset = %d",
			width, r.DType, *r.Offset)
	}
	if r.Size != nil && *r.Size < 1 {
		return errors.NewInvalidRequest("size must be greater than or equal to 1, got %d", *r.Size)
	}

	order, ok := ParseOrder(string(r.Order))
	if !ok {
		return errors.NewInvalidRequest("'order' parameter was '%s' but must be either 'C' or 'F'", r.Order)
	}
	r.Order = order

	if r.Shape != nil {
		if len(r.Shape) == 0 {
			return errors.NewInvalidRequest("shape must contain at least 1 item")
		}
		for _, n := range r.Shape {
			if n < 1 {
				return errors.NewInvalidRequest("shape entries must be greater than or equal to 1, got %d", n)
			}
		}
	}

	if r.Selection != nil {
		if r.Shape == nil {
			return errors.NewInvalidRequest("When providing a selection parameter you must also provide a shape parameter")
		}
		if len(r.Selection) != len(r.Shape) {
			return errors.NewInvalidRequest("Selection parameter list must have same number of elements as shape parameter")
		}
		for i, s := range r.Selection {
			if s.Stride < 1 {
				return errors.NewInvalidRequest("selection[%d]: stride must be greater than or equal to 1, got %d", i, s.Stride)
			}
		}
	}

	return nil
}

// Width is the element width of the requested dtype.
func (r *RequestSpec) Width() int {
	return r.DType.Width()
}

// Resource names the upstream object in S3 path form.
func (r *RequestSpec) Resource() string {
	return "/" + r.Bucket + "/" + r.Object
}
