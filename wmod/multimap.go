// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wmod

// Pair is a single keyed insertion carried by a modifier.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// MapModifier is a batch of pending changes to an external key-indexed store:
// an ordered sequence of insertions plus a set of deletions.  The zero value
// is the empty modifier and is ready for use.
//
// Applying a modifier to a store means removing the deletion keys first and
// then writing the insertions in order, so a key that is both deleted and
// later re-inserted nets out to a replace.  A modifier never holds the same
// key in its deletion set and its insertion sequence at once; the two are
// kept disjoint as operations are recorded.
type MapModifier[K comparable, V any] struct {
	insertions []Pair[K, V]
	insIndex   map[K]int
	deletions  map[K]struct{}
}

// NewMapModifier returns an empty modifier.
func NewMapModifier[K comparable, V any]() MapModifier[K, V] {
	return MapModifier[K, V]{}
}

func (m *MapModifier[K, V]) init() {
	if m.insIndex == nil {
		m.insIndex = make(map[K]int)
	}
	if m.deletions == nil {
		m.deletions = make(map[K]struct{})
	}
}

// Insert records an insertion of value under key.  Any earlier insertion of
// the same key is dropped and the new pair takes its place at the tail of the
// sequence, and any pending deletion of the key is cancelled (the net effect
// on the store is a replace).
func (m *MapModifier[K, V]) Insert(key K, value V) {
	m.init()

	if i, ok := m.insIndex[key]; ok {
		m.removeInsertion(i)
	}
	delete(m.deletions, key)
	m.insIndex[key] = len(m.insertions)
	m.insertions = append(m.insertions, Pair[K, V]{Key: key, Value: value})
}

// Delete records a deletion of key, cancelling any pending insertion of the
// same key.
func (m *MapModifier[K, V]) Delete(key K) {
	m.init()

	if i, ok := m.insIndex[key]; ok {
		m.removeInsertion(i)
		delete(m.insIndex, key)
	}
	m.deletions[key] = struct{}{}
}

// removeInsertion drops the insertion at position i, shifting the tail down
// and fixing up the key index.
func (m *MapModifier[K, V]) removeInsertion(i int) {
	m.insertions = append(m.insertions[:i], m.insertions[i+1:]...)
	for j := i; j < len(m.insertions); j++ {
		m.insIndex[m.insertions[j].Key] = j
	}
}

// InsertDelete records a batch of deletions followed by a batch of ordered
// insertions.  Keys must be unique within a single call.
func (m *MapModifier[K, V]) InsertDelete(dels []K, ins []Pair[K, V]) {
	for _, k := range dels {
		m.Delete(k)
	}
	for _, p := range ins {
		m.Insert(p.Key, p.Value)
	}
}

// Merge folds other into m so that applying m afterwards is equivalent to
// applying the original m followed by other.  Deletions become the union of
// both sets minus keys re-inserted by other; insertions keep m-then-other
// order with a later insertion of the same key winning.  Merge is
// associative and the empty modifier is its identity.
func (m *MapModifier[K, V]) Merge(other *MapModifier[K, V]) {
	for k := range other.deletions {
		m.Delete(k)
	}
	for _, p := range other.insertions {
		m.Insert(p.Key, p.Value)
	}
}

// Lookup reports the modifier's own view of key: the pending insertion value
// if one exists, or ok=false with deleted=true when the key is pending
// deletion.
func (m *MapModifier[K, V]) Lookup(key K) (value V, ok, deleted bool) {
	if i, found := m.insIndex[key]; found {
		return m.insertions[i].Value, true, false
	}
	_, deleted = m.deletions[key]
	return value, false, deleted
}

// Insertions returns the pending insertions in order.  The returned slice is
// shared with the modifier and must not be mutated.
func (m *MapModifier[K, V]) Insertions() []Pair[K, V] {
	return m.insertions
}

// Deletions returns the pending deletion keys in unspecified order.
func (m *MapModifier[K, V]) Deletions() []K {
	if len(m.deletions) == 0 {
		return nil
	}
	keys := make([]K, 0, len(m.deletions))
	for k := range m.deletions {
		keys = append(keys, k)
	}
	return keys
}

// NumInsertions returns the number of pending insertions.
func (m *MapModifier[K, V]) NumInsertions() int {
	return len(m.insertions)
}

// NumDeletions returns the number of pending deletions.
func (m *MapModifier[K, V]) NumDeletions() int {
	return len(m.deletions)
}

// IsEmpty reports whether the modifier carries no changes.
func (m *MapModifier[K, V]) IsEmpty() bool {
	return len(m.insertions) == 0 && len(m.deletions) == 0
}

// Clone returns a deep copy that can be merged into without affecting m.
func (m *MapModifier[K, V]) Clone() MapModifier[K, V] {
	var c MapModifier[K, V]
	if len(m.insertions) > 0 || len(m.deletions) > 0 {
		c.init()
		c.insertions = append([]Pair[K, V](nil), m.insertions...)
		for k, i := range m.insIndex {
			c.insIndex[k] = i
		}
		for k := range m.deletions {
			c.deletions[k] = struct{}{}
		}
	}
	return c
}
