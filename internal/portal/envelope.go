package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Object is one loosely-typed JSON object from a portal response. Field
// presence varies by deployment, so lookups take an ordered list of
// candidate keys and the first usable value wins.
type Object map[string]any

// Str returns the first non-empty candidate rendered as a trimmed string.
func (o Object) Str(keys ...string) string {
	for _, k := range keys {
		if s := stringify(o[k]); s != "" {
			return s
		}
	}
	return ""
}

// Int returns the first candidate that parses as an integer.
func (o Object) Int(keys ...string) (int64, bool) {
	for _, k := range keys {
		if n, ok := toInt(o[k]); ok {
			return n, true
		}
	}
	return 0, false
}

// Bool reports the first present candidate as a truthy value
// (true, non-zero numbers, "1", "true", "yes").
func (o Object) Bool(keys ...string) (value, present bool) {
	for _, k := range keys {
		v, ok := o[k]
		if !ok || v == nil {
			continue
		}
		return truthy(v), true
	}
	return false, false
}

// Object returns the nested object at key.
func (o Object) Object(key string) (Object, bool) {
	m, ok := o[key].(map[string]any)
	return Object(m), ok
}

// List returns the objects in the array at key. A single object is
// treated as a one-element list; non-object elements are skipped.
func (o Object) List(key string) []Object {
	return objects(o[key])
}

// Values returns the raw array at key, or nil.
func (o Object) Values(key string) []any {
	a, _ := o[key].([]any)
	return a
}

// Ints returns the integer elements of the array at key; others are skipped.
func (o Object) Ints(key string) []int {
	var out []int
	for _, v := range o.Values(key) {
		if n, ok := toInt(v); ok {
			out = append(out, int(n))
		}
	}
	return out
}

// Envelope is a decoded portal response; JS holds the "js" member.
type Envelope struct {
	JS any
}

// Decode parses a portal body. An empty body is an empty envelope;
// anything that is not JSON is ErrDecode.
func Decode(body []byte) (*Envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return &Envelope{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return &Envelope{}, nil
	}
	return &Envelope{JS: m["js"]}, nil
}

// Object returns js as an object (nil when js is not an object).
func (e *Envelope) Object() Object {
	if e == nil {
		return nil
	}
	m, _ := e.JS.(map[string]any)
	return Object(m)
}

// Items returns the row list of a listing response: js itself when it is an
// array, otherwise js.data (a single object there becomes a one-element list).
func (e *Envelope) Items() []Object {
	if e == nil || e.JS == nil {
		return nil
	}
	if _, isList := e.JS.([]any); isList {
		return objects(e.JS)
	}
	return e.Object().List("data")
}

// TotalItems reads js.total_items, which portals send as a string or a number.
func (e *Envelope) TotalItems() (int, bool) {
	n, ok := e.Object().Int("total_items")
	return int(n), ok
}

func objects(v any) []Object {
	switch t := v.(type) {
	case []any:
		out := make([]Object, 0, len(t))
		for _, el := range t {
			if m, ok := el.(map[string]any); ok {
				out = append(out, Object(m))
			}
		}
		return out
	case map[string]any:
		return []Object{Object(t)}
	}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "1"
		}
		return "0"
	}
	return ""
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		}
		return false
	}
	n, ok := toInt(v)
	return ok && n != 0
}
