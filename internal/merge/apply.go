package merge

// Apply returns a copy of current with diff merged in.
//
// Objects are merged field by field. Items of keyed arrays are merged into
// the existing item with the same identity; diff items without a match are
// ignored. Every other value replaces the current one.
func Apply(current, diff map[string]any, opts Options) map[string]any {
	out := Clone(current)
	if out == nil {
		out = make(map[string]any, len(diff))
	}
	applyObject(out, diff, opts)
	return out
}

func applyObject(dst, diff map[string]any, opts Options) {
	for key, value := range diff {
		cur, exists := dst[key]
		if keyField, keyed := opts.KeyedArrays[key]; keyed && exists {
			if items, ok := cur.([]any); ok {
				if updates, ok := value.([]any); ok {
					applyKeyedArray(items, updates, keyField, opts)
					continue
				}
			}
		}

		if sub, ok := value.(map[string]any); ok {
			if target, ok := cur.(map[string]any); ok {
				applyObject(target, sub, opts)
				continue
			}
		}

		dst[key] = cloneValue(value)
	}
}

func applyKeyedArray(items, updates []any, keyField string, opts Options) {
	for _, raw := range updates {
		update, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if target := findByKey(items, keyField, update[keyField]); target != nil {
			applyObject(target, update, opts)
		}
	}
}

// Clone returns a deep copy of a state map.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return val
	}
}
