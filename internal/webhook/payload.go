package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Payload is a decoded callback body. Numbers are kept as json.Number so
// their literal form survives canonicalization.
type Payload map[string]any

// Event is the envelope of a transaction callback.
type Event struct {
	Type string
	Obj  Payload
}

// DecodeJSON decodes a JSON object into a Payload.
func DecodeJSON(r io.Reader) (Payload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}
	return p, nil
}

// DecodeEvent decodes a transaction callback of the form {"type", "obj"}.
func DecodeEvent(r io.Reader) (Event, error) {
	p, err := DecodeJSON(r)
	if err != nil {
		return Event{}, err
	}
	obj, ok := p["obj"].(map[string]any)
	if !ok {
		return Event{}, fmt.Errorf("%w: missing obj", ErrMalformedPayload)
	}
	return Event{Type: p.String("type"), Obj: Payload(obj)}, nil
}

// FromQuery builds a Payload from flat query parameters, taking the first
// value of each key.
func FromQuery(q url.Values) Payload {
	p := make(Payload, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			p[k] = vs[0]
		}
	}
	return p
}

// Lookup resolves a dotted path through nested objects. A flat key equal to
// the whole path is tried when the nested walk fails.
func (p Payload) Lookup(path string) (any, bool) {
	var cur any = map[string]any(p)
	found := true
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			found = false
			break
		}
		if cur, ok = m[part]; !ok {
			found = false
			break
		}
	}
	if found {
		return cur, true
	}
	v, ok := p[path]
	return v, ok
}

// String returns the canonical string form of the value at path.
func (p Payload) String(path string) string {
	v, _ := p.Lookup(path)
	return stringify(v)
}

// Bool reads a boolean that may arrive as a JSON bool or a "true"/"false"
// string.
func (p Payload) Bool(path string) bool {
	v, _ := p.Lookup(path)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	}
	return false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	}
	return nil, false
}

// stringify renders a value the way the provider does when signing: strings
// verbatim, numbers in literal form, booleans lowercase, null as empty, and
// composites as compact JSON.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
