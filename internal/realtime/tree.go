package realtime

type tree struct {
	root map[string]any
}

func newTree(root map[string]any) *tree {
	if root == nil {
		root = make(map[string]any)
	}
	return &tree{root: root}
}

// get returns a deep copy of the value at segs, or nil.
func (t *tree) get(segs []string) any {
	var cur any = t.root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[s]
		if !ok {
			return nil
		}
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return clone(cur)
}

// set replaces the value at segs. A nil value removes the node and prunes
// parents left empty. Scalars on the way are replaced by maps.
func (t *tree) set(segs []string, v any) {
	if len(segs) == 0 {
		if m, ok := v.(map[string]any); ok {
			t.root = m
		} else {
			t.root = make(map[string]any)
		}
		return
	}

	if v == nil {
		t.remove(t.root, segs)
		return
	}

	cur := t.root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

// remove deletes segs under m and reports whether m became empty.
func (t *tree) remove(m map[string]any, segs []string) bool {
	if len(segs) == 1 {
		delete(m, segs[0])
		return len(m) == 0
	}
	child, ok := m[segs[0]].(map[string]any)
	if !ok {
		return len(m) == 0
	}
	if t.remove(child, segs[1:]) {
		delete(m, segs[0])
	}
	return len(m) == 0
}
