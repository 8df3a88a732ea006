package transform

import "strings"

// Lookup resolves a dotted path like "customer.account.id" against a
// payload document. It reports false when any segment is missing or a
// non-map value is reached before the final segment.
func Lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")

	current := doc
	for i, segment := range segments {
		value, ok := current[segment]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return value, true
		}
		next, ok := value.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}

	return nil, false
}

// Assign writes value at a dotted path, creating intermediate maps as
// needed. An existing non-map value on the path is replaced by a map.
func Assign(doc map[string]interface{}, path string, value interface{}) {
	segments := strings.Split(path, ".")

	current := doc
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[segment] = next
		}
		current = next
	}

	current[segments[len(segments)-1]] = value
}
