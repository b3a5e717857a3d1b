package sri

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// wireKeyword is the flat JSON form of a keyword:
// {"id":"COL_RF","type":"double","value":1.5e9}.
type wireKeyword struct {
	ID    string               `json:"id"`
	Kind  sinksocket.ValueKind `json:"type"`
	Value any                  `json:"value"`
}

type wireSRI struct {
	HVersion int32         `json:"hversion"`
	XStart   float64       `json:"xstart"`
	XDelta   float64       `json:"xdelta"`
	XUnits   int16         `json:"xunits"`
	Subsize  int32         `json:"subsize"`
	YStart   float64       `json:"ystart"`
	YDelta   float64       `json:"ydelta"`
	YUnits   int16         `json:"yunits"`
	Mode     int16         `json:"mode"`
	StreamID string        `json:"streamID"`
	Blocking bool          `json:"blocking"`
	Keywords []wireKeyword `json:"keywords"`
}

// Encode returns the JSON wire form of s.
func Encode(s sinksocket.StreamSRI) ([]byte, error) {
	w := wireSRI{
		HVersion: s.HVersion,
		XStart:   s.XStart,
		XDelta:   s.XDelta,
		XUnits:   s.XUnits,
		Subsize:  s.Subsize,
		YStart:   s.YStart,
		YDelta:   s.YDelta,
		YUnits:   s.YUnits,
		Mode:     s.Mode,
		StreamID: s.StreamID,
		Blocking: s.Blocking,
		Keywords: make([]wireKeyword, 0, len(s.Keywords)),
	}
	for _, kw := range s.Keywords {
		w.Keywords = append(w.Keywords, wireKeyword{ID: kw.ID, Kind: kw.Value.Kind, Value: kw.Value.V})
	}
	return json.Marshal(w)
}

// Decode parses the JSON wire form. Absent header fields take the values of
// Default; streamID is required. Keyword values are converted to the Go type
// matching their declared kind. Errors wrap sinksocket.ErrBadRequest.
func Decode(raw []byte) (sinksocket.StreamSRI, error) {
	if !gjson.ValidBytes(raw) {
		return sinksocket.StreamSRI{}, fmt.Errorf("%w: invalid sri json", sinksocket.ErrBadRequest)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return sinksocket.StreamSRI{}, fmt.Errorf("%w: sri must be an object", sinksocket.ErrBadRequest)
	}

	id := root.Get("streamID")
	if id.Type != gjson.String || id.String() == "" {
		return sinksocket.StreamSRI{}, fmt.Errorf("%w: streamID is required", sinksocket.ErrBadRequest)
	}
	s := Default(id.String())

	if r := root.Get("hversion"); r.Exists() {
		s.HVersion = int32(r.Int())
	}
	if r := root.Get("xstart"); r.Exists() {
		s.XStart = r.Float()
	}
	if r := root.Get("xdelta"); r.Exists() {
		s.XDelta = r.Float()
	}
	if r := root.Get("xunits"); r.Exists() {
		s.XUnits = int16(r.Int())
	}
	if r := root.Get("subsize"); r.Exists() {
		s.Subsize = int32(r.Int())
	}
	if r := root.Get("ystart"); r.Exists() {
		s.YStart = r.Float()
	}
	if r := root.Get("ydelta"); r.Exists() {
		s.YDelta = r.Float()
	}
	if r := root.Get("yunits"); r.Exists() {
		s.YUnits = int16(r.Int())
	}
	if r := root.Get("mode"); r.Exists() {
		s.Mode = int16(r.Int())
	}
	s.Blocking = root.Get("blocking").Bool()

	kws := root.Get("keywords")
	if kws.Exists() && kws.Type != gjson.Null && !kws.IsArray() {
		return sinksocket.StreamSRI{}, fmt.Errorf("%w: keywords must be an array", sinksocket.ErrBadRequest)
	}
	var err error
	kws.ForEach(func(_, kw gjson.Result) bool {
		var k sinksocket.Keyword
		k, err = decodeKeyword(kw)
		if err != nil {
			return false
		}
		s.Keywords = append(s.Keywords, k)
		return true
	})
	if err != nil {
		return sinksocket.StreamSRI{}, err
	}
	return s, nil
}

func decodeKeyword(r gjson.Result) (sinksocket.Keyword, error) {
	id := r.Get("id").String()
	if id == "" {
		return sinksocket.Keyword{}, fmt.Errorf("%w: keyword id is required", sinksocket.ErrBadRequest)
	}
	kind := sinksocket.ValueKind(r.Get("type").String())
	v, err := decodeValue(kind, r.Get("value"))
	if err != nil {
		return sinksocket.Keyword{}, fmt.Errorf("keyword %q: %w", id, err)
	}
	return sinksocket.Keyword{ID: id, Value: sinksocket.Value{Kind: kind, V: v}}, nil
}

func decodeValue(kind sinksocket.ValueKind, r gjson.Result) (any, error) {
	bad := func() (any, error) {
		return nil, fmt.Errorf("%w: value %s is not a valid %s", sinksocket.ErrBadRequest, r.Raw, kind)
	}
	switch kind {
	case sinksocket.KindBool:
		if r.Type != gjson.True && r.Type != gjson.False {
			return bad()
		}
		return r.Bool(), nil
	case sinksocket.KindChar:
		if r.Type != gjson.String || len([]rune(r.String())) != 1 {
			return bad()
		}
		return r.String(), nil
	case sinksocket.KindString:
		if r.Type != gjson.String {
			return bad()
		}
		return r.String(), nil
	case sinksocket.KindOctet:
		n, ok := intIn(r, 0, math.MaxUint8)
		if !ok {
			return bad()
		}
		return uint8(n), nil
	case sinksocket.KindShort:
		n, ok := intIn(r, math.MinInt16, math.MaxInt16)
		if !ok {
			return bad()
		}
		return int16(n), nil
	case sinksocket.KindUShort:
		n, ok := intIn(r, 0, math.MaxUint16)
		if !ok {
			return bad()
		}
		return uint16(n), nil
	case sinksocket.KindLong:
		n, ok := intIn(r, math.MinInt32, math.MaxInt32)
		if !ok {
			return bad()
		}
		return int32(n), nil
	case sinksocket.KindULong:
		n, ok := intIn(r, 0, math.MaxUint32)
		if !ok {
			return bad()
		}
		return uint32(n), nil
	case sinksocket.KindLongLong:
		if r.Type != gjson.Number {
			return bad()
		}
		return r.Int(), nil
	case sinksocket.KindULongLong:
		if r.Type != gjson.Number || r.Float() < 0 {
			return bad()
		}
		return r.Uint(), nil
	case sinksocket.KindFloat:
		if r.Type != gjson.Number {
			return bad()
		}
		return float32(r.Float()), nil
	case sinksocket.KindDouble:
		if r.Type != gjson.Number {
			return bad()
		}
		return r.Float(), nil
	case sinksocket.KindDoubleSeq:
		return decodeSeq(r, func(e gjson.Result) (float64, bool) {
			return e.Float(), e.Type == gjson.Number
		})
	case sinksocket.KindLongSeq:
		return decodeSeq(r, func(e gjson.Result) (int32, bool) {
			n, ok := intIn(e, math.MinInt32, math.MaxInt32)
			return int32(n), ok
		})
	case sinksocket.KindStringSeq:
		return decodeSeq(r, func(e gjson.Result) (string, bool) {
			return e.String(), e.Type == gjson.String
		})
	case sinksocket.KindOctetSeq:
		// encoding/json writes []byte as base64; numeric arrays are accepted too.
		if r.Type == gjson.String {
			b, err := base64.StdEncoding.DecodeString(r.String())
			if err != nil {
				return bad()
			}
			return b, nil
		}
		return decodeSeq(r, func(e gjson.Result) (byte, bool) {
			n, ok := intIn(e, 0, math.MaxUint8)
			return byte(n), ok
		})
	default:
		return nil, fmt.Errorf("%w: unknown keyword type %q", sinksocket.ErrBadRequest, kind)
	}
}

func intIn(r gjson.Result, lo, hi int64) (int64, bool) {
	if r.Type != gjson.Number {
		return 0, false
	}
	f := r.Float()
	if f != math.Trunc(f) || f < float64(lo) || f > float64(hi) {
		return 0, false
	}
	return r.Int(), true
}

func decodeSeq[T any](r gjson.Result, conv func(gjson.Result) (T, bool)) (any, error) {
	if !r.IsArray() {
		return nil, fmt.Errorf("%w: value %s is not an array", sinksocket.ErrBadRequest, r.Raw)
	}
	elems := r.Array()
	out := make([]T, 0, len(elems))
	for i, e := range elems {
		v, ok := conv(e)
		if !ok {
			return nil, fmt.Errorf("%w: element %d (%s) has the wrong type", sinksocket.ErrBadRequest, i, e.Raw)
		}
		out = append(out, v)
	}
	return out, nil
}
