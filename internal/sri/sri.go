// Package sri compares, encodes and decodes stream descriptors.
package sri

import (
	"reflect"
	"slices"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// Default returns the descriptor assumed for a stream that arrives without one.
func Default(streamID string) sinksocket.StreamSRI {
	return sinksocket.StreamSRI{
		HVersion: 1,
		XDelta:   1,
		StreamID: streamID,
	}
}

// Equal reports whether two descriptors are identical: every header field,
// the blocking flag and the keyword list, compared pairwise in order.
func Equal(a, b sinksocket.StreamSRI) bool {
	if a.HVersion != b.HVersion ||
		a.XStart != b.XStart ||
		a.XDelta != b.XDelta ||
		a.XUnits != b.XUnits ||
		a.Subsize != b.Subsize ||
		a.YStart != b.YStart ||
		a.YDelta != b.YDelta ||
		a.YUnits != b.YUnits ||
		a.Mode != b.Mode ||
		a.StreamID != b.StreamID ||
		a.Blocking != b.Blocking {
		return false
	}
	return keywordsEqual(a.Keywords, b.Keywords)
}

func keywordsEqual(a, b []sinksocket.Keyword) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || !ValuesEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two keyword values. Kinds must match; sequences are
// compared element-wise.
func ValuesEqual(a, b sinksocket.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case sinksocket.KindDoubleSeq:
		return seqEqual[float64](a.V, b.V)
	case sinksocket.KindLongSeq:
		return seqEqual[int32](a.V, b.V)
	case sinksocket.KindStringSeq:
		return seqEqual[string](a.V, b.V)
	case sinksocket.KindOctetSeq:
		return seqEqual[byte](a.V, b.V)
	default:
		if a.V == nil || b.V == nil {
			return a.V == nil && b.V == nil
		}
		if !reflect.TypeOf(a.V).Comparable() || !reflect.TypeOf(b.V).Comparable() {
			return false
		}
		return a.V == b.V
	}
}

func seqEqual[T comparable](a, b any) bool {
	x, ok1 := a.([]T)
	y, ok2 := b.([]T)
	if !ok1 || !ok2 {
		return false
	}
	return slices.Equal(x, y)
}

// Diff returns the JSON names of the fields that differ between a and b, in
// declaration order. It returns nil when Equal(a, b).
func Diff(a, b sinksocket.StreamSRI) []string {
	var out []string
	add := func(differs bool, name string) {
		if differs {
			out = append(out, name)
		}
	}
	add(a.HVersion != b.HVersion, "hversion")
	add(a.XStart != b.XStart, "xstart")
	add(a.XDelta != b.XDelta, "xdelta")
	add(a.XUnits != b.XUnits, "xunits")
	add(a.Subsize != b.Subsize, "subsize")
	add(a.YStart != b.YStart, "ystart")
	add(a.YDelta != b.YDelta, "ydelta")
	add(a.YUnits != b.YUnits, "yunits")
	add(a.Mode != b.Mode, "mode")
	add(a.StreamID != b.StreamID, "streamID")
	add(a.Blocking != b.Blocking, "blocking")
	add(!keywordsEqual(a.Keywords, b.Keywords), "keywords")
	return out
}
