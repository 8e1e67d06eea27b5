package value

import "fmt"

// UserObject is a user-level object: a mapping of string-keyed fields
// plus an optional proto pointer used as a fallback for field lookup.
// Field lookup walks the proto chain, which compiler-and-runtime
// invariants keep acyclic and finite: proto objects are normally
// installed once, at construction, from a `proto` block or by assigning
// to the reserved `__proto` field.
type UserObject struct {
	Header
	fields map[string]Value
	proto  *UserObject
}

var (
	_ Value  = (*UserObject)(nil)
	_ Marker = (*UserObject)(nil)
)

// NewObject returns an empty object with no proto.
func NewObject() *UserObject {
	return &UserObject{fields: make(map[string]Value)}
}

func (o *UserObject) String() string { return fmt.Sprintf("object(%p)", o) }
func (o *UserObject) Type() string   { return "object" }

// Proto returns the object's prototype, or nil if it has none.
func (o *UserObject) Proto() *UserObject { return o.proto }

// SetProto installs p as the object's prototype. The caller is
// responsible for avoiding cycles; Field bounds the walk regardless.
func (o *UserObject) SetProto(p *UserObject) { o.proto = p }

// GetOwn returns the field stored directly on o, ignoring proto.
func (o *UserObject) GetOwn(name string) (Value, bool) {
	v, ok := o.fields[name]
	return v, ok
}

// SetOwn sets a field directly on o.
func (o *UserObject) SetOwn(name string, v Value) { o.fields[name] = v }

// maxProtoDepth bounds the proto-chain walk so a cycle introduced by
// misuse of SetProto degrades to a lookup miss instead of hanging.
const maxProtoDepth = 1000

// Field walks the proto chain starting at o, returning the first field
// found.
func (o *UserObject) Field(name string) (Value, bool) {
	cur := o
	for i := 0; i < maxProtoDepth; i++ {
		if cur == nil {
			return Nil, false
		}
		if v, ok := cur.fields[name]; ok {
			return v, true
		}
		cur = cur.proto
	}
	return Nil, false
}

func (o *UserObject) Mark(visit func(Value)) {
	for _, v := range o.fields {
		visit(v)
	}
	if o.proto != nil {
		visit(o.proto)
	}
}

// FieldNames returns the object's own field names (not including proto),
// for reflection/debug use.
func (o *UserObject) FieldNames() []string {
	names := make([]string, 0, len(o.fields))
	for n := range o.fields {
		names = append(names, n)
	}
	return names
}
