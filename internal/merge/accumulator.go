package merge

// accumulator builds one object level of a safe update.
//
// Child levels are attached to their parent while they are being built, so
// every validation sees the whole diff accumulated so far. A child that ends
// up empty is reverted from its parent.
type accumulator struct {
	fields  map[string]any
	root    map[string]any
	isValid func(map[string]any) bool
}

func newAccumulator(isValid func(map[string]any) bool) *accumulator {
	fields := make(map[string]any)
	return &accumulator{fields: fields, root: fields, isValid: isValid}
}

// child returns a fresh, detached accumulator sharing this one's root.
func (a *accumulator) child() *accumulator {
	return &accumulator{fields: make(map[string]any), root: a.root, isValid: a.isValid}
}

func (a *accumulator) attach(key string, v any) {
	a.fields[key] = v
}

func (a *accumulator) revert(key string) {
	delete(a.fields, key)
}

// valid runs the validator against the root in its current shape.
func (a *accumulator) valid() bool {
	if a.isValid == nil {
		return true
	}
	return a.isValid(a.root)
}

// arrayAccumulator collects matched items of a keyed array under its parent.
type arrayAccumulator struct {
	parent *accumulator
	key    string
	items  []any
}

func (a *arrayAccumulator) push(item map[string]any) {
	a.items = append(a.items, item)
	a.parent.attach(a.key, a.items)
}

func (a *arrayAccumulator) pop() {
	a.items = a.items[:len(a.items)-1]
	if len(a.items) == 0 {
		a.parent.revert(a.key)
		return
	}
	a.parent.attach(a.key, a.items)
}
