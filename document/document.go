package document

import (
	"iter"
	"slices"
	"strings"
)

// IDField is the reserved primary-key field name.
const IDField = "_id"

// Document is an ordered mapping of field names to values. Field order is
// insertion order and is preserved on the wire; setting an existing field
// replaces its value in place.
type Document struct {
	keys   []string
	fields map[string]Value
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{fields: make(map[string]Value)}
}

// Set stores v under key and returns d for chaining. Setting an invalid
// Value is a no-op.
func (d *Document) Set(key string, v Value) *Document {
	if !v.IsValid() {
		return d
	}
	if d.fields == nil {
		d.fields = make(map[string]Value)
	}
	if _, ok := d.fields[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.fields[key] = v
	return d
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (Value, bool) {
	if d == nil || d.fields == nil {
		return Value{}, false
	}
	v, ok := d.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Remove deletes key and reports whether it was present.
func (d *Document) Remove(key string) bool {
	if d == nil || d.fields == nil {
		return false
	}
	if _, ok := d.fields[key]; !ok {
		return false
	}
	delete(d.fields, key)
	d.keys = slices.DeleteFunc(d.keys, func(k string) bool { return k == key })
	return true
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the field names in insertion order. The returned slice is a
// copy.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return slices.Clone(d.keys)
}

// Fields iterates the fields in insertion order.
func (d *Document) Fields() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		if d == nil {
			return
		}
		for _, k := range d.keys {
			if !yield(k, d.fields[k]) {
				return
			}
		}
	}
}

// ID returns the primary-key field value.
func (d *Document) ID() (Value, bool) { return d.Get(IDField) }

// Clone returns a deep copy of d. Nested documents are cloned recursively;
// binary and vector payloads are copied.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	clone := &Document{
		keys:   slices.Clone(d.keys),
		fields: make(map[string]Value, len(d.fields)),
	}
	for k, v := range d.fields {
		clone.fields[k] = v.clone()
	}
	return clone
}

// clone deep-copies composite kinds; scalar kinds copy by value.
func (v Value) clone() Value {
	switch v.kind {
	case KindDocument:
		v.doc = v.doc.Clone()
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i := range v.arr {
			arr[i] = v.arr[i].clone()
		}
		v.arr = arr
	case KindBinary:
		v.bin = slices.Clone(v.bin)
	case KindVector:
		v.vec = slices.Clone(v.vec)
	}
	return v
}

// String implements fmt.Stringer. The rendering is for diagnostics only.
func (d *Document) String() string {
	if d == nil {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(d.fields[k].String())
	}
	sb.WriteByte('}')
	return sb.String()
}
