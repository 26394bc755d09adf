package signature

import (
	"errors"
	"sort"
	"strings"
)

const (
	FieldSignature          = "signature"
	FieldSignedFieldNames   = "signed_field_names"
	FieldUnsignedFieldNames = "unsigned_field_names"
)

// ErrUnorderedFields is returned when caller order is requested for a field
// container that has no defined order.
var ErrUnorderedFields = errors.New("signature: ordered fields required for unsorted canonicalization")

// Fields is a read-only view over form fields.
type Fields interface {
	Keys() []string
	Get(key string) (string, bool)
}

// Map is an unordered set of form fields.
type Map map[string]string

func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m Map) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// OrderedFields keeps fields in insertion order. Setting an existing key
// replaces its value but keeps its position.
type OrderedFields struct {
	keys   []string
	values map[string]string
}

func NewOrderedFields() *OrderedFields {
	return &OrderedFields{values: make(map[string]string)}
}

func (o *OrderedFields) Set(key, value string) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *OrderedFields) Keys() []string {
	return append([]string(nil), o.keys...)
}

func (o *OrderedFields) Get(key string) (string, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *OrderedFields) Len() int {
	return len(o.keys)
}

// Canonicalize renders fields as "k1=v1,k2=v2". When sorted is false the
// caller's order is used, which is only defined for *OrderedFields.
func Canonicalize(fields Fields, sorted bool) (string, error) {
	if fields == nil {
		return "", errors.New("signature: nil fields")
	}
	if !sorted {
		if _, ok := fields.(*OrderedFields); !ok {
			return "", ErrUnorderedFields
		}
	}

	keys := fields.Keys()
	if sorted {
		sort.Strings(keys)
	}

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		v, _ := fields.Get(k)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String(), nil
}
