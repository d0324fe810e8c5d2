package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transaction keeps losing read-set
	// validation after the maximum number of attempts.
	ErrConflict = errors.New("transaction conflict")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Doc is the wire shape of a stored document. Field paths may be dotted
// ("wallet.balance") to address nested maps.
type Doc map[string]any

// Filter is an equality filter on a top-level document field.
type Filter struct {
	Field string
	Value any
}

// Snapshot pairs a document with its storage key.
type Snapshot struct {
	Key string
	Doc Doc
}

// Store is the document-store capability consumed by the core. Implementations
// must make Increment atomic and give RunTransaction read-set validation with
// bounded retries.
type Store interface {
	Get(ctx context.Context, collection, key string) (Doc, error)
	Set(ctx context.Context, collection, key string, doc Doc) error
	Update(ctx context.Context, collection, key string, fields Doc) error
	Increment(ctx context.Context, collection, key, field string, delta int64) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	Batch() Batch
}

// Tx stages writes against a consistent read set. Reads must happen before
// writes; staged writes become visible only when the transaction commits.
// An error returned from the transaction function aborts without retrying.
type Tx interface {
	Get(collection, key string) (Doc, error)
	Set(collection, key string, doc Doc)
	Update(collection, key string, fields Doc)
	Increment(collection, key, field string, delta int64)
	Create(collection string, doc Doc) string
}

// Batch accumulates unconditional writes committed as one unit.
type Batch interface {
	Set(collection, key string, doc Doc)
	Update(collection, key string, fields Doc)
	Create(collection string, doc Doc)
	Commit(ctx context.Context) error
}

// maxTxAttempts bounds optimistic retries before ErrConflict surfaces.
const maxTxAttempts = 5

// Lookup walks a dotted path and reports whether a value is present.
func (d Doc) Lookup(path string) (any, bool) {
	cur := any(d)
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes a value at a dotted path, creating intermediate maps.
func (d Doc) SetPath(path string, value any) {
	cur := map[string]any(d)
	segs := strings.Split(path, ".")
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asMap(cur[seg])
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// String returns the string at path, or "" when absent or not a string.
func (d Doc) String(path string) string {
	v, ok := d.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int returns the integer at path, coercing the numeric types JSON decoding
// produces. Absent or non-numeric values read as 0.
func (d Doc) Int(path string) int64 {
	v, ok := d.Lookup(path)
	if !ok {
		return 0
	}
	n, _ := AsInt(v)
	return n
}

// Bool returns the boolean at path plus whether it was present.
func (d Doc) Bool(path string) (bool, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Time parses the RFC 3339 timestamp stored at path.
func (d Doc) Time(path string) (time.Time, bool) {
	s := d.String(path)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Clone deep-copies the document so callers can mutate it freely.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out, _ := cloneValue(map[string]any(d)).(map[string]any)
	return Doc(out)
}

// AsInt coerces the numeric representations a JSON round trip can yield.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Doc:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Doc:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// valuesEqual compares a stored value with a filter value, tolerating the
// int/float mismatch introduced by JSON decoding.
func valuesEqual(a, b any) bool {
	if a == b {
		return true
	}
	ai, aok := AsInt(a)
	bi, bok := AsInt(b)
	return aok && bok && ai == bi
}
