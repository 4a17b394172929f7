// Package runtime implements the execution substrate described in spec
// §3-§4.4-§4.5: records, actions, call frames, the VM, and the Engine
// façade.
package runtime

import "github.com/fraudscore/rex/pkg/value"

// Record is a field-name-to-Value mapping. Transaction and UserProfile are
// both Records, distinguished only by which DSL identifier they're bound
// to (spec §3). Reading an absent field yields Null, never an error.
type Record struct {
	fields map[string]value.Value
}

// NewRecord returns an empty Record.
func NewRecord() *Record {
	return &Record{fields: make(map[string]value.Value)}
}

// WithField sets name to v and returns the receiver, mirroring the
// original's builder-style with_field.
func (r *Record) WithField(name string, v value.Value) *Record {
	r.fields[name] = v
	return r
}

// Get reads a field, yielding value.Nil when absent.
func (r *Record) Get(name string) value.Value {
	if v, ok := r.fields[name]; ok {
		return v
	}
	return value.Nil
}

// Set writes a field, creating it if it doesn't already exist.
func (r *Record) Set(name string, v value.Value) {
	r.fields[name] = v
}

// Fields returns a copy of the record's fields, safe for a caller to
// inspect without observing further mutation.
func (r *Record) Fields() map[string]value.Value {
	out := make(map[string]value.Value, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Clone deep-copies the record (values are immutable so a shallow field
// copy suffices).
func (r *Record) Clone() *Record {
	return &Record{fields: r.Fields()}
}
