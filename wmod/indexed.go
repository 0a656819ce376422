// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wmod

import "sort"

// IndexedPair is an insertion tagged with the position it was recorded at.
// Positions are unique within one modifier and strictly increase in
// recording order.
type IndexedPair[K comparable, V any] struct {
	Position uint64
	Key      K
	Value    V
}

// IndexedModifier is a MapModifier variant whose insertions carry positions
// assigned from a per-modifier counter.  Within one modifier a re-inserted
// key keeps the position of its first insertion; merging offsets the other
// modifier's positions past this one's counter and lets the other's entries
// override per key.  Replaying any merge grouping of the same modifier
// sequence therefore yields the same insertion order.  The owned-address
// index depends on this for deterministic replay.
//
// The zero value is the empty modifier and is ready for use.
type IndexedModifier[K comparable, V any] struct {
	insertions map[K]IndexedPair[K, V]
	deletions  map[K]struct{}

	// counter advances on every Insert call, including re-inserts, so
	// merged-in positions can never collide with recorded ones.
	counter uint64
}

func (m *IndexedModifier[K, V]) init() {
	if m.insertions == nil {
		m.insertions = make(map[K]IndexedPair[K, V])
	}
	if m.deletions == nil {
		m.deletions = make(map[K]struct{})
	}
}

// Insert records an insertion of value under key.  A key already pending
// insertion keeps its original position with the value replaced.
func (m *IndexedModifier[K, V]) Insert(key K, value V) {
	m.init()

	if p, ok := m.insertions[key]; ok {
		p.Value = value
		m.insertions[key] = p
		m.counter++
		return
	}
	delete(m.deletions, key)
	m.insertions[key] = IndexedPair[K, V]{
		Position: m.counter,
		Key:      key,
		Value:    value,
	}
	m.counter++
}

// Delete records a deletion of key, cancelling any pending insertion.
func (m *IndexedModifier[K, V]) Delete(key K) {
	m.init()

	delete(m.insertions, key)
	m.deletions[key] = struct{}{}
}

// Merge folds other into m so that m afterwards describes m-then-other.
// Every key recorded by other overrides m's entry for that key; other's
// insertion positions are offset by m's counter, placing them after all of
// m's own insertions while keeping their relative order.
func (m *IndexedModifier[K, V]) Merge(other *IndexedModifier[K, V]) {
	if len(other.deletions) == 0 && len(other.insertions) == 0 {
		m.counter += other.counter
		return
	}
	m.init()

	for k := range other.deletions {
		delete(m.insertions, k)
		m.deletions[k] = struct{}{}
	}
	base := m.counter
	for k, p := range other.insertions {
		delete(m.deletions, k)
		m.insertions[k] = IndexedPair[K, V]{
			Position: base + p.Position,
			Key:      k,
			Value:    p.Value,
		}
	}
	m.counter = base + other.counter
}

// sortedInsertions returns the pending insertions ordered by position.
func (m *IndexedModifier[K, V]) sortedInsertions() []IndexedPair[K, V] {
	pairs := make([]IndexedPair[K, V], 0, len(m.insertions))
	for _, p := range m.insertions {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Position < pairs[j].Position
	})
	return pairs
}

// Insertions returns the pending insertions in position order.
func (m *IndexedModifier[K, V]) Insertions() []IndexedPair[K, V] {
	if len(m.insertions) == 0 {
		return nil
	}
	return m.sortedInsertions()
}

// Deletions returns the pending deletion keys in unspecified order.
func (m *IndexedModifier[K, V]) Deletions() []K {
	if len(m.deletions) == 0 {
		return nil
	}
	keys := make([]K, 0, len(m.deletions))
	for k := range m.deletions {
		keys = append(keys, k)
	}
	return keys
}

// Lookup reports the modifier's own view of key.
func (m *IndexedModifier[K, V]) Lookup(key K) (value V, ok, deleted bool) {
	if p, found := m.insertions[key]; found {
		return p.Value, true, false
	}
	_, deleted = m.deletions[key]
	return value, false, deleted
}

// NumInsertions returns the number of pending insertions.
func (m *IndexedModifier[K, V]) NumInsertions() int {
	return len(m.insertions)
}

// NumDeletions returns the number of pending deletions.
func (m *IndexedModifier[K, V]) NumDeletions() int {
	return len(m.deletions)
}

// IsEmpty reports whether the modifier carries no changes.
func (m *IndexedModifier[K, V]) IsEmpty() bool {
	return len(m.insertions) == 0 && len(m.deletions) == 0
}

// Clone returns a deep copy that can be merged into without affecting m.
func (m *IndexedModifier[K, V]) Clone() IndexedModifier[K, V] {
	var c IndexedModifier[K, V]
	c.counter = m.counter
	if len(m.insertions) > 0 || len(m.deletions) > 0 {
		c.init()
		for k, p := range m.insertions {
			c.insertions[k] = p
		}
		for k := range m.deletions {
			c.deletions[k] = struct{}{}
		}
	}
	return c
}
