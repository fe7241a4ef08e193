package core

// Value is a canonical dynamic JSON value: nil, bool, float64, string,
// []Value or map[string]Value. Decoded JSON (map[string]interface{} from
// encoding/json) already satisfies this shape; Value exists so argument
// resolution code (executor package) can type-switch without re-deriving
// the set of legal shapes at every call site.
type Value = interface{}

// Path walks a dotted/indexed path ("data.items[0].id") against a decoded
// JSON value, returning (value, true) if every segment resolved or
// (nil, false) the moment a segment is missing, out of range, or the wrong
// shape. Used by the executor's reference-argument resolution.
func Path(v Value, path []PathSegment) (Value, bool) {
	cur := v
	for _, seg := range path {
		switch {
		case seg.Index != nil:
			arr, ok := cur.([]Value)
			if !ok {
				return nil, false
			}
			idx := *seg.Index
			if idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		case seg.Key != "":
			m, ok := cur.(map[string]Value)
			if !ok {
				return nil, false
			}
			next, found := m[seg.Key]
			if !found {
				return nil, false
			}
			cur = next
		}
	}
	return cur, true
}

// PathSegment is either a map key or an array index.
type PathSegment struct {
	Key   string
	Index *int
}
