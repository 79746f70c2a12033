package toolsconfig

// orderedMap is an insertion-ordered association. Iteration order is the
// order keys were first set; re-setting a key keeps its position.
type orderedMap[V any] struct {
	keys []string
	idx  map[string]int
	vals []V
}

func newOrderedMap[V any]() *orderedMap[V] {
	return &orderedMap[V]{idx: map[string]int{}}
}

func (m *orderedMap[V]) Get(key string) (V, bool) {
	if i, ok := m.idx[key]; ok {
		return m.vals[i], true
	}
	var zero V
	return zero, false
}

func (m *orderedMap[V]) Has(key string) bool {
	_, ok := m.idx[key]
	return ok
}

func (m *orderedMap[V]) Set(key string, v V) {
	if i, ok := m.idx[key]; ok {
		m.vals[i] = v
		return
	}
	m.idx[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, v)
}

func (m *orderedMap[V]) Len() int { return len(m.keys) }

// Each calls fn for every entry in insertion order.
func (m *orderedMap[V]) Each(fn func(key string, v V)) {
	for i, k := range m.keys {
		fn(k, m.vals[i])
	}
}
