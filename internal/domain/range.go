package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RangeSpec is a closed byte interval [Start, End] inside a content item.
type RangeSpec struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Length returns the number of bytes covered by the interval.
func (r RangeSpec) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the interval as a Content-Range header value.
func (r RangeSpec) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange normalizes an HTTP Range header value against a content size.
// A blank header is treated as "bytes=0-". Only the first range of a
// multi-range request is honored; the rest are ignored.
func ParseRange(header string, size int64) (RangeSpec, error) {
	if size <= 0 {
		return RangeSpec{}, ErrRangeNotSatisfiable
	}

	value := strings.TrimSpace(header)
	if value == "" {
		value = "bytes=0-"
	}
	if !strings.HasPrefix(strings.ToLower(value), "bytes=") {
		return RangeSpec{}, fmt.Errorf("%w: unsupported unit", ErrInvalidRange)
	}

	spec := strings.TrimSpace(value[len("bytes="):])
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = strings.TrimSpace(spec[:i])
	}
	if spec == "" {
		return RangeSpec{}, fmt.Errorf("%w: empty range", ErrInvalidRange)
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return RangeSpec{}, fmt.Errorf("%w: missing dash", ErrInvalidRange)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		if endStr == "" {
			return RangeSpec{}, fmt.Errorf("%w: empty range", ErrInvalidRange)
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return RangeSpec{}, fmt.Errorf("%w: bad suffix length %q", ErrInvalidRange, endStr)
		}
		if suffix > size {
			suffix = size
		}
		return RangeSpec{Start: size - suffix, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return RangeSpec{}, fmt.Errorf("%w: bad start %q", ErrInvalidRange, startStr)
	}
	if start >= size {
		return RangeSpec{}, ErrRangeNotSatisfiable
	}
	if endStr == "" {
		return RangeSpec{Start: start, End: size - 1}, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return RangeSpec{}, fmt.Errorf("%w: bad end %q", ErrInvalidRange, endStr)
	}
	if end >= size {
		end = size - 1
	}
	return RangeSpec{Start: start, End: end}, nil
}
