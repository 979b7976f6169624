package plan

import (
	"strconv"
	"strings"
)

// Flatten is the path element standing for every element of a list.
const Flatten = "@"

// Path addresses a location in a response: field names (string) and list
// indexes (int). Plan paths may also contain Flatten.
type Path []PathElement

// PathElement is a field name (string), a list index (int) or Flatten.
type PathElement = any

// Append returns a new path with elems appended; p is not modified.
func (p Path) Append(elems ...PathElement) Path {
	out := make(Path, len(p), len(p)+len(elems))
	copy(out, p)
	return append(out, elems...)
}

// Concat returns p followed by q.
func (p Path) Concat(q Path) Path { return p.Append(q...) }

// HasFlatten reports whether p contains a Flatten element.
func (p Path) HasFlatten() bool {
	for _, e := range p {
		if s, ok := e.(string); ok && s == Flatten {
			return true
		}
	}
	return false
}

// Equal reports element-wise equality.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// String joins the elements with dots, e.g. "topProducts.@.reviews.0".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, e := range p {
		switch v := e.(type) {
		case string:
			parts[i] = v
		case int:
			parts[i] = strconv.Itoa(v)
		}
	}
	return strings.Join(parts, ".")
}

// ParsePath converts a decoded JSON path, whose indexes arrive as float64.
func ParsePath(raw []any) Path {
	if len(raw) == 0 {
		return nil
	}
	p := make(Path, len(raw))
	for i, e := range raw {
		p[i] = normalizeElement(e)
	}
	return p
}

// normalizeElement converts decoded JSON path elements (float64 indexes) to
// their Go form.
func normalizeElement(e any) PathElement {
	switch v := e.(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int32:
		return int(v)
	}
	return e
}
