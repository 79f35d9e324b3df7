package merge

import (
	"fmt"
	"sort"
)

// SafeUpdate returns the maximal subset of update that can be applied to
// current without breaking the validator.
//
// Fields absent from current, fields whose type cannot be coerced, and fields
// rejected by isValid are dropped and reported through opts.Warn with their
// dotted path. Unchanged values are dropped, except the identity field of
// keyed array items. The result is idempotent: applying it and running
// SafeUpdate again with the same update yields an empty map.
//
// isValid receives the accumulated diff in its current shape and must not
// retain or modify it. A nil isValid accepts everything.
func SafeUpdate(update, current map[string]any, isValid func(map[string]any) bool, opts Options) map[string]any {
	acc := newAccumulator(isValid)
	if len(update) == 0 {
		return acc.fields
	}
	m := merger{opts: opts}
	m.object(acc, update, current, nil, "")
	return acc.fields
}

type merger struct {
	opts Options
}

// object merges one level of update into acc.
// identity names a field that was pre-seeded into acc and must be kept.
func (m merger) object(acc *accumulator, update, current map[string]any, path []string, identity string) {
	for _, key := range sortedKeys(update) {
		value := update[key]
		field := m.opts.resolve(path, key)
		dotted := joinPath(path, field)

		if identity != "" && field == identity {
			continue
		}

		cur, exists := current[field]
		if !exists {
			m.opts.warn(fmt.Sprintf("ignoring %q: field is not part of the current state", dotted))
			continue
		}

		if keyField, keyed := m.opts.KeyedArrays[field]; keyed && kindOf(cur) == kindArray {
			m.keyedArray(acc, field, value, cur.([]any), childPath(path, field), keyField)
			continue
		}

		v, ok := coerce(value, cur)
		if !ok {
			m.opts.warn(fmt.Sprintf("ignoring %q: expected %s, got %s", dotted, kindOf(cur), kindOf(value)))
			continue
		}

		if f, isNumber := v.(float64); isNumber {
			if places, rounded := m.opts.precisionFor(dotted); rounded {
				v = round(f, places)
			}
		}

		if kindOf(cur) == kindObject {
			child := acc.child()
			acc.attach(field, child.fields)
			m.object(child, v.(map[string]any), cur.(map[string]any), childPath(path, field), "")
			if len(child.fields) == 0 {
				acc.revert(field)
			}
			continue
		}

		if equal(v, cur) {
			continue
		}
		if arr, isArray := v.([]any); isArray && len(arr) == 0 {
			continue
		}
		// Arrays without an identity key are replaced and validated whole.

		acc.attach(field, cloneValue(v))
		if !acc.valid() {
			acc.revert(field)
			m.opts.warn(fmt.Sprintf("ignoring %q: value %v rejected by validator", dotted, v))
		}
	}
}

// keyedArray merges update items into existing items matched by keyField.
// Items without a counterpart in current are dropped, never inserted.
func (m merger) keyedArray(acc *accumulator, field string, value any, current []any, path []string, keyField string) {
	dotted := joinPath(path[:len(path)-1], field)

	items, ok := value.([]any)
	if !ok {
		m.opts.warn(fmt.Sprintf("ignoring %q: expected array, got %s", dotted, kindOf(value)))
		return
	}

	arr := &arrayAccumulator{parent: acc, key: field}
	for i, raw := range items {
		item, isObject := raw.(map[string]any)
		if !isObject {
			m.opts.warn(fmt.Sprintf("ignoring %q[%d]: expected object, got %s", dotted, i, kindOf(raw)))
			continue
		}
		id, hasID := item[keyField]
		if !hasID {
			m.opts.warn(fmt.Sprintf("ignoring %q[%d]: missing %q", dotted, i, keyField))
			continue
		}
		existing := findByKey(current, keyField, id)
		if existing == nil {
			m.opts.warn(fmt.Sprintf("ignoring %q: no item with %s=%v in current state", dotted, keyField, id))
			continue
		}

		child := acc.child()
		child.fields[keyField] = existing[keyField]
		arr.push(child.fields)
		m.object(child, item, existing, path, keyField)

		// A bare identity carries no information.
		if len(child.fields) <= 1 {
			arr.pop()
		}
	}
}

func findByKey(items []any, keyField string, id any) map[string]any {
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if v, has := item[keyField]; has && equal(v, id) {
			return item
		}
	}
	return nil
}

func childPath(path []string, field string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, field)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
