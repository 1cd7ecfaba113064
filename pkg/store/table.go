package store

// table is an insertion-ordered map. Updates keep the original position.
type table[T any] struct {
	items map[string]T
	order []string
}

func newTable[T any]() *table[T] {
	return &table[T]{items: make(map[string]T)}
}

func (t *table[T]) put(id string, v T) {
	if _, exists := t.items[id]; !exists {
		t.order = append(t.order, id)
	}
	t.items[id] = v
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.items[id]
	return v, ok
}

func (t *table[T]) remove(id string) bool {
	if _, exists := t.items[id]; !exists {
		return false
	}
	delete(t.items, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *table[T]) each(fn func(id string, v T)) {
	for _, id := range t.order {
		fn(id, t.items[id])
	}
}

func (t *table[T]) len() int {
	return len(t.order)
}
