package confloader

import (
	"errors"
	"strings"
)

var errNoBytes = errors.New("confloader: dotted map has no byte form")

// dottedMap is a koanf provider for platform aliases and CLI overrides,
// keyed by dotted paths such as "store.table_name". Read expands the paths
// so the values merge with file and env sources key by key instead of
// replacing whole sections.
type dottedMap map[string]any

func (m dottedMap) ReadBytes() ([]byte, error) {
	return nil, errNoBytes
}

func (m dottedMap) Read() (map[string]any, error) {
	return unflatten(m), nil
}

func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	return out
}
