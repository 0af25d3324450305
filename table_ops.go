// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vstable

import (
	"fmt"
	"strings"
)

// NewMap constructs a Table in map mode: each key carries an associated
// value. initialCapacity, if positive, preallocates enough buckets to hold
// that many keys without an intervening rehash (see Reserve).
func NewMap[K comparable, V any](initialCapacity int, opts ...Option[K, V]) *Table[K, V] {
	t := &Table[K, V]{
		hash:      DefaultHash[K](),
		cmpr:      CompareEqual[K](),
		maxLoad:   defaultMaxLoad,
		allocator: defaultAllocator[K, V]{},
	}
	for _, o := range opts {
		o.apply(t)
	}
	if ca, ok := t.allocator.(ContextAllocator[K, V]); ok && t.ctx != nil {
		t.allocator = ca.WithContext(t.ctx)
	}
	if initialCapacity > 0 {
		t.Reserve(initialCapacity)
	}
	return t
}

// NewSet constructs a Table in set mode: a Table[K, struct{}] whose values
// carry no information, the idiomatic Go rendering of the original
// design's unified set/map template (see DESIGN.md's Open Question
// decisions). Membership is Get's second return value; insert a
// placeholder struct{}{} to add a member.
func NewSet[K comparable](initialCapacity int, opts ...Option[K, struct{}]) *Table[K, struct{}] {
	return NewMap[K, struct{}](initialCapacity, opts...)
}

// Clone returns a new Table holding the same keys (and, in map mode,
// values), with its own independent backing arrays and the same
// configuration (hash, compare, destructors, allocator, max load). Because
// chains are expressed purely as index arithmetic, never as pointers, the
// backing arrays can be copied directly without re-walking any chain.
func (t *Table[K, V]) Clone() *Table[K, V] {
	clone := &Table[K, V]{
		hash:      t.hash,
		cmpr:      t.cmpr,
		maxLoad:   t.maxLoad,
		keyDtor:   t.keyDtor,
		valDtor:   t.valDtor,
		allocator: t.allocator,
		ctx:       t.ctx,
	}
	if t.bucketCount == 0 {
		return clone
	}

	metaWords := clone.allocator.AllocMetadata(int(t.bucketCount) + 4)
	entries := clone.allocator.AllocEntries(int(t.bucketCount))
	copy(metaWords, metaWordsView(t.metadata, t.bucketCount+4))
	copy(entries, t.buckets.Slice(t.bucketCount))

	clone.metadata = makeUnsafeSlice(sliceAsMetadatum(metaWords))
	clone.buckets = makeUnsafeSlice(entries)
	clone.bucketCount = t.bucketCount
	clone.keyCount = t.keyCount
	return clone
}

// Insert adds k with value v, overwriting any existing value for k. It
// reports whether k is new to the table. In set mode, call
// Insert(k, struct{}{}).
func (t *Table[K, V]) Insert(k K, v V) (inserted bool) {
	hash := noescapeHash(t.hash, k)

	if idx, found := t.get(k, hash); found {
		t.runDestructors(idx)
		e := t.bucketAt(idx)
		e.Key, e.Value = k, v
		return false
	}

	idx := t.insertRawGrowing(hash)
	e := t.bucketAt(idx)
	e.Key, e.Value = k, v
	t.keyCount++
	t.checkInvariants()
	return true
}

// GetOrInsert returns the value already stored for k, if present, without
// modifying the table. Otherwise it inserts v under k and returns v. The
// second return value reports whether an insert occurred.
func (t *Table[K, V]) GetOrInsert(k K, v V) (actual V, inserted bool) {
	hash := noescapeHash(t.hash, k)

	if idx, found := t.get(k, hash); found {
		return t.bucketAt(idx).Value, false
	}

	idx := t.insertRawGrowing(hash)
	e := t.bucketAt(idx)
	e.Key, e.Value = k, v
	t.keyCount++
	t.checkInvariants()
	return v, true
}

// Get returns the value stored for k and true, or the zero value and false
// if k is not present.
func (t *Table[K, V]) Get(k K) (V, bool) {
	hash := noescapeHash(t.hash, k)
	idx, found := t.get(k, hash)
	if !found {
		var zero V
		return zero, false
	}
	return t.bucketAt(idx).Value, true
}

// Erase removes k from the table, if present, running any configured
// destructors, and reports whether it was present.
func (t *Table[K, V]) Erase(k K) bool {
	if t.bucketCount == 0 {
		return false
	}
	hash := noescapeHash(t.hash, k)
	home := homeBucketOf(hash, t.bucketCount)
	idx, found := t.get(k, hash)
	if !found {
		return false
	}
	t.eraseEntryAt(home, idx)
	t.checkInvariants()
	return true
}

// EraseIterator removes the entry it currently points at and returns an
// iterator to the next entry that hasn't yet been visited, so a caller can
// erase while iterating:
//
//	for it := t.First(); !it.IsEnd(); {
//	    if shouldRemove(it.Key()) {
//	        it = t.EraseIterator(it)
//	    } else {
//	        it = it.Next()
//	    }
//	}
//
// When erasing an interior chain member moves another entry into it's old
// bucket (see eraseEntryAt) from a later bucket, the returned iterator
// points at that bucket again rather than skipping past it, since its
// contents haven't been visited yet under this traversal. If the moved
// entry came from an earlier bucket, it has already been visited, and the
// returned iterator advances past it.
func (t *Table[K, V]) EraseIterator(it Iterator[K, V]) Iterator[K, V] {
	target := it.idx
	e := t.bucketAt(target)
	hash := noescapeHash(t.hash, e.Key)
	home := homeBucketOf(hash, t.bucketCount)
	tail := t.chainTail(home)

	if t.eraseEntryAt(home, target) && tail > target {
		return Iterator[K, V]{t: t, idx: target}
	}
	return Iterator[K, V]{t: t, idx: t.nextOccupied(target)}
}

// Clear removes every key from the table, running destructors if
// configured, but keeps its current bucket count (no memory is released;
// see Shrink or Cleanup for that).
func (t *Table[K, V]) Clear() {
	if t.bucketCount == 0 {
		return
	}
	if t.keyDtor != nil || t.valDtor != nil {
		for i := uintptr(0); i < t.bucketCount; i++ {
			if !t.metaAt(i).isEmpty() {
				t.runDestructors(i)
			}
		}
	}
	for i := uintptr(0); i < t.bucketCount; i++ {
		t.metaAt(i).clear()
	}
	t.keyCount = 0
}

// Cleanup removes every key (as Clear does) and releases the table's
// backing arrays back to its allocator, leaving it in the same state as a
// freshly constructed, never-inserted-into Table. Call it when done with a
// table whose Allocator manages memory the garbage collector doesn't know
// about.
func (t *Table[K, V]) Cleanup() {
	t.Clear()
	t.freeArrays()
	t.metadata = unsafeSlice[metadatum]{}
	t.buckets = unsafeSlice[Entry[K, V]]{}
	t.bucketCount = 0
}

// DebugString renders every bucket's occupancy and metadata, for use in
// tests and interactive debugging. Its format is not a stable API.
func (t *Table[K, V]) DebugString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "vstable.Table{keys:%d buckets:%d}\n", t.keyCount, t.bucketCount)
	for i := uintptr(0); i < t.bucketCount; i++ {
		m := *t.metaAt(i)
		if m.isEmpty() {
			fmt.Fprintf(&b, "  [%d] empty\n", i)
			continue
		}
		e := t.bucketAt(i)
		fmt.Fprintf(&b, "  [%d] key=%v home=%t disp=%d frag=%x\n",
			i, e.Key, m.inHomeBucket(), m.displacement(), m.hashFragment()>>12)
	}
	return b.String()
}
