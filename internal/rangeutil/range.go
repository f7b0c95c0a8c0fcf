// Package rangeutil clamps and aligns byte ranges.
package rangeutil

import "math"

// MaxBoundaryBits is the largest boundary AlignUp accepts.
const MaxBoundaryBits = 62

// AlignUp rounds size up to the next multiple of 2^boundaryBits.
// Negative sizes align to 0. The second result is false when the boundary
// exceeds MaxBoundaryBits or the aligned size does not fit an int64.
func AlignUp(size int64, boundaryBits uint) (int64, bool) {
	if boundaryBits > MaxBoundaryBits {
		return 0, false
	}
	if size <= 0 {
		return 0, true
	}
	mask := int64(1)<<boundaryBits - 1
	if size > math.MaxInt64-mask {
		return 0, false
	}
	return (size + mask) &^ mask, true
}

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// Offset returns a pointer to v, for passing explicit bounds to SanitizeRange.
func Offset(v int64) *int64 {
	return &v
}

// SanitizeRange clamps [start, end) to an object of objectSize bytes. A nil
// start means 0 and a nil end means objectSize. Negative starts clamp to 0
// and ends past the object clamp to objectSize. The second result is false
// when the clamped range is empty, which callers treat as "no data".
func SanitizeRange(objectSize int64, start, end *int64) (Range, bool) {
	var r Range
	if start != nil {
		r.Start = *start
	}
	if end == nil || *end > objectSize {
		r.End = objectSize
	} else {
		r.End = *end
	}
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End <= r.Start {
		return Range{}, false
	}
	return r, true
}
