/*
Package types defines the request data model shared by the planner, the
fetcher, the reduction engine and the HTTP surface.

A RequestSpec is built per incoming call and discarded once the response is
written. Validate runs before any upstream call, so a malformed offset, order,
shape or selection never causes network traffic:

	spec := &types.RequestSpec{
		Source:    "http://localhost:9000",
		Bucket:    "sample-data",
		Object:    "data-int32.dat",
		DType:     dtype.Int32,
		Shape:     []int{10},
		Selection: []types.Slice{{Start: 0, Stop: 10, Stride: 2}},
	}
	if err := spec.Validate(); err != nil {
		// err is a *errors.ProxyError with HTTP status 400
	}

Offsets are byte offsets and must be a multiple of the dtype width. Selection
triples follow the usual strided-range semantics: stop is exclusive and the
stride is at least one.
*/
package types
