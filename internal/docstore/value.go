package docstore

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// TimeLayout is the fixed-width layout of resolved server timestamps. Values
// sort lexicographically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

const serverTimestampMarker = "\x00docstore.serverTimestamp"

type serverTimestamp struct{}

func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(serverTimestampMarker)
}

// ServerTimestamp is a placeholder value that the store replaces with its
// write time. It may appear at any depth of the written data.
var ServerTimestamp any = serverTimestamp{}

// FormatTime renders t the way resolved server timestamps are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Encode marshals data into a JSON object and resolves every
// ServerTimestamp placeholder to now. Data must encode to an object.
func Encode(data any, now time.Time) (json.RawMessage, error) {
	obj, err := EncodeFields(data, now)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Wrap(err, "marshal document")
	}
	return out, nil
}

// EncodeFields is like Encode but returns the decoded top-level fields.
// Numbers are kept as json.Number so no precision is lost.
func EncodeFields(data any, now time.Time) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "marshal document")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.Wrap(err, "document must be a JSON object")
	}
	if obj == nil {
		obj = map[string]any{}
	}
	stamp := FormatTime(now)
	for k, v := range obj {
		obj[k] = resolve(v, stamp)
	}
	return obj, nil
}

func resolve(v any, stamp string) any {
	switch v := v.(type) {
	case string:
		if v == serverTimestampMarker {
			return stamp
		}
		return v
	case map[string]any:
		for k, e := range v {
			v[k] = resolve(e, stamp)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = resolve(e, stamp)
		}
		return v
	default:
		return v
	}
}

// DecodeFields parses a stored JSON object into its top-level fields.
func DecodeFields(data json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

// Match reports whether the document fields satisfy every filter.
func Match(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok {
			return false
		}
		want, err := normalize(f.Value)
		if err != nil {
			return false
		}
		if Compare(v, want) != 0 {
			return false
		}
	}
	return true
}

// normalize brings a Go value into the shape DecodeFields produces.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Compare orders two decoded JSON values. Values of different kinds order
// null < bool < number < string < other.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a := a.(type) {
	case bool:
		bb := b.(bool)
		switch {
		case a == bb:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	case json.Number:
		fa, _ := a.Float64()
		fb, _ := b.(json.Number).Float64()
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(a, b.(string))
	case nil:
		return 0
	default:
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		return bytes.Compare(ja, jb)
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case json.Number:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}
