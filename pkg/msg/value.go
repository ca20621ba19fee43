// Package msg implements the self-describing binary value format exchanged
// between the editor and the bridge.
//
// Every value starts with an 8-byte little-endian tag followed by its body:
//
//	Int     tag 0, 8-byte value
//	Str     tag 1, 8-byte length, raw bytes
//	Arr     tag 2, 8-byte count, count values
//	Struct  tag 3, 8-byte count, count keys (length + bytes), count values
//
// Struct keys are written in one pass before all of the values; a key is
// paired with the value at the same position.
package msg

// Tag identifies the variant of an encoded value.
type Tag int64

const (
	TagInt    Tag = 0
	TagStr    Tag = 1
	TagArr    Tag = 2
	TagStruct Tag = 3
)

// String returns the variant name.
func (t Tag) String() string {
	switch t {
	case TagInt:
		return "int"
	case TagStr:
		return "string"
	case TagArr:
		return "array"
	case TagStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Value is one of Int, Str, Arr or Struct.
type Value interface {
	Tag() Tag
	isValue()
}

// Int is a signed 64-bit integer value.
type Int int64

// Str is a string value. The wire form carries no terminator.
type Str string

// Arr is an ordered list of values.
type Arr []Value

// Field is one named member of a Struct.
type Field struct {
	Name  string
	Value Value
}

// Struct is an ordered list of fields. Names are not required to be unique.
type Struct []Field

func (Int) Tag() Tag    { return TagInt }
func (Str) Tag() Tag    { return TagStr }
func (Arr) Tag() Tag    { return TagArr }
func (Struct) Tag() Tag { return TagStruct }

func (Int) isValue()    {}
func (Str) isValue()    {}
func (Arr) isValue()    {}
func (Struct) isValue() {}

// Lookup returns the first field named name in declaration order.
func (s Struct) Lookup(name string) (Value, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Equal reports whether a and b are structurally identical, including field
// order and duplicate names.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Str:
		bv, ok := b.(Str)
		return ok && av == bv
	case Arr:
		bv, ok := b.(Arr)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Struct:
		bv, ok := b.(Struct)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Name != bv[i].Name || !Equal(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	default:
		return a == nil && b == nil
	}
}
