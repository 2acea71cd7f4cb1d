package library

import (
	"fmt"
	"strings"
)

// resolveExtends returns every document with its ancestry merged in. Each
// id is resolved once; a cycle or an unknown parent is an error.
func resolveExtends(docs map[string]map[string]any) (map[string]map[string]any, error) {
	resolved := make(map[string]map[string]any, len(docs))
	visiting := make(map[string]bool)

	var resolve func(id string, chain []string) (map[string]any, error)
	resolve = func(id string, chain []string) (map[string]any, error) {
		if done, ok := resolved[id]; ok {
			return done, nil
		}
		doc, ok := docs[id]
		if !ok {
			return nil, fmt.Errorf("library: %s extends unknown exercise %q", chain[len(chain)-1], id)
		}
		if visiting[id] {
			return nil, fmt.Errorf("library: extends cycle: %s -> %s", strings.Join(chain, " -> "), id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		out := doc
		if parent, _ := doc["extends"].(string); parent != "" {
			base, err := resolve(parent, append(chain, id))
			if err != nil {
				return nil, err
			}
			out = deepMerge(heritable(base), doc)
		}
		out = copyMap(out)
		delete(out, "extends")
		resolved[id] = out
		return out, nil
	}

	for id := range docs {
		if _, err := resolve(id, nil); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// heritable strips the fields a child never inherits.
func heritable(parent map[string]any) map[string]any {
	out := copyMap(parent)
	delete(out, "selectable")
	if meta, ok := out["meta"].(map[string]any); ok {
		meta = copyMap(meta)
		delete(meta, "selectable")
		out["meta"] = meta
	}
	return out
}

// deepMerge merges ext over base. Nested mappings merge; any other value in
// ext replaces the value in base. Neither input is modified.
func deepMerge(base, ext map[string]any) map[string]any {
	out := copyMap(base)
	for k, v := range ext {
		if em, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(bm, em)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
