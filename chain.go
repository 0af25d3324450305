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

// This file is the chain engine: the algorithms that maintain the
// home-anchor invariant (a chain, if non-empty, always begins at its home
// bucket) as keys are inserted and erased. It is a direct translation of
// the find-first-empty / find-insert-location / evict / insert / get /
// erase routines in the original verstable design, adapted from per-type C
// functions to methods on Table[K,V].

// findEmptySlot quadratically probes from home, trying displacement values
// 1, 2, 3, ... until it finds an empty bucket, and returns that bucket's
// index together with the displacement value that reaches it. It reports
// false if the entire displacement range is exhausted without finding one,
// which can only happen when the table is close to full; the caller grows
// the table and retries.
func (t *Table[K, V]) findEmptySlot(home uintptr) (idx uintptr, d uint16, ok bool) {
	mask := t.bucketCount - 1
	for d := uint16(1); d < displacementEndOfChain; d++ {
		cand := chainSuccessor(home, d, mask)
		if t.metaAt(cand).isEmpty() {
			return cand, d, true
		}
	}
	return 0, 0, false
}

// chainTail walks the chain rooted at home and returns the index of its
// last node (the one whose metadatum reports end-of-chain).
func (t *Table[K, V]) chainTail(home uintptr) uintptr {
	mask := t.bucketCount - 1
	idx := home
	for {
		m := *t.metaAt(idx)
		if m.isEndOfChain() {
			return idx
		}
		idx = chainSuccessor(home, m.displacement(), mask)
	}
}

// findInsertLocationInChain walks the chain rooted at home and returns the
// index of the node after which a newly found empty slot reached by
// displacement d should be spliced, keeping the chain's sequence of
// displacement values strictly increasing (chain monotonicity). home itself
// is returned when d belongs before every existing member.
func (t *Table[K, V]) findInsertLocationInChain(home uintptr, d uint16) uintptr {
	mask := t.bucketCount - 1
	idx := home
	for {
		m := *t.metaAt(idx)
		if m.isEndOfChain() || m.displacement() > d {
			return idx
		}
		idx = chainSuccessor(home, m.displacement(), mask)
	}
}

// findPredecessor walks the chain rooted at home and returns the index of
// the node whose computed successor is target. target must actually be a
// member of the chain reachable from home (true for every call site in
// this file).
func (t *Table[K, V]) findPredecessor(home, target uintptr) uintptr {
	mask := t.bucketCount - 1
	idx := home
	for {
		m := *t.metaAt(idx)
		next := chainSuccessor(home, m.displacement(), mask)
		if next == target {
			return idx
		}
		idx = next
	}
}

// evict relocates the entry currently occupying bucket `target`, which by
// construction belongs to some other chain (it is not anchored at
// target), to a fresh bucket reachable from its own home. This frees
// target so its true owner can anchor there, preserving the invariant that
// a chain always begins at its home bucket. The empty slot is located
// before anything is mutated, so a displacement-exhausted failure leaves
// the table untouched; only then is target unlinked from its old chain
// position and re-spliced at its new, displacement-sorted position via
// findInsertLocationInChain, rather than assumed to belong at whatever spot
// findEmptySlot happens to return.
func (t *Table[K, V]) evict(target uintptr) error {
	entry := *t.bucketAt(target)
	occHash := noescapeHash(t.hash, entry.Key)
	occHome := homeBucketOf(occHash, t.bucketCount)
	frag := t.metaAt(target).hashFragment()

	newIdx, d, ok := t.findEmptySlot(occHome)
	if !ok {
		return errDisplacementExhausted
	}

	predIdx := t.findPredecessor(occHome, target)
	t.metaAt(predIdx).setDisplacement(t.metaAt(target).displacement())

	splicePred := t.findInsertLocationInChain(occHome, d)
	nextDisp := t.metaAt(splicePred).displacement()
	t.metaAt(splicePred).setDisplacement(d)

	*t.bucketAt(newIdx) = entry
	*t.metaAt(newIdx) = makeMemberMetadatum(frag, nextDisp)
	t.metaAt(target).clear()
	return nil
}

// insertRaw places a brand-new key (the caller must already have confirmed
// no equal key exists) into the bucket dictated by the home-anchor
// invariant, growing the chain or evicting a foreign occupant as needed,
// and returns the bucket index the key now occupies.
func (t *Table[K, V]) insertRaw(hash uint64) (uintptr, error) {
	home := homeBucketOf(hash, t.bucketCount)
	frag := hashFragmentOf(hash)
	m := t.metaAt(home)

	switch {
	case m.isEmpty():
		*m = makeAnchorMetadatum(frag)
		return home, nil

	case m.inHomeBucket():
		newIdx, d, ok := t.findEmptySlot(home)
		if !ok {
			return 0, errDisplacementExhausted
		}
		splicePred := t.findInsertLocationInChain(home, d)
		nextDisp := t.metaAt(splicePred).displacement()
		t.metaAt(splicePred).setDisplacement(d)
		*t.metaAt(newIdx) = makeMemberMetadatum(frag, nextDisp)
		return newIdx, nil

	default:
		if err := t.evict(home); err != nil {
			return 0, err
		}
		*t.metaAt(home) = makeAnchorMetadatum(frag)
		return home, nil
	}
}

// checkInvariants walks every occupied home bucket's chain and panics if the
// home-anchor invariant or chain monotonicity (displacement values strictly
// increasing along a chain) is violated. Gated by debug; far too expensive
// to run outside tests and local debugging.
func (t *Table[K, V]) checkInvariants() {
	if !debug {
		return
	}
	mask := t.bucketCount - 1
	seen := 0
	for home := uintptr(0); home < t.bucketCount; home++ {
		m := *t.metaAt(home)
		if m.isEmpty() || !m.inHomeBucket() {
			continue
		}
		idx := home
		prevD := uint16(0)
		for {
			mi := *t.metaAt(idx)
			if mi.isEmpty() {
				panic("vstable: chain runs through an empty bucket")
			}
			seen++
			if mi.isEndOfChain() {
				break
			}
			d := mi.displacement()
			if d <= prevD {
				panic("vstable: chain displacement sequence is not strictly increasing")
			}
			prevD = d
			idx = chainSuccessor(home, d, mask)
		}
	}
	if seen != t.keyCount {
		panic("vstable: chain walk visited a different key count than keyCount tracks")
	}
}

// get looks up k (whose hash is hash) and returns its bucket index, or
// false if no such key is present.
func (t *Table[K, V]) get(k K, hash uint64) (uintptr, bool) {
	if t.bucketCount == 0 {
		return 0, false
	}

	home := homeBucketOf(hash, t.bucketCount)
	frag := hashFragmentOf(hash)
	mask := t.bucketCount - 1

	idx := home
	m := *t.metaAt(idx)
	if m.isEmpty() || !m.inHomeBucket() {
		// An empty home bucket means no chain exists here at all; an
		// occupied-but-foreign home bucket means this bucket belongs to a
		// different chain entirely, so k cannot be present under either.
		return 0, false
	}

	for {
		if m.hashFragment() == frag && t.cmpr(t.bucketAt(idx).Key, k) {
			return idx, true
		}
		if m.isEndOfChain() {
			return 0, false
		}
		idx = chainSuccessor(home, m.displacement(), mask)
		m = *t.metaAt(idx)
	}
}

// runDestructors invokes the key/value destructor hooks, if set, on the
// entry currently stored at idx.
func (t *Table[K, V]) runDestructors(idx uintptr) {
	if t.keyDtor == nil && t.valDtor == nil {
		return
	}
	e := t.bucketAt(idx)
	if t.keyDtor != nil {
		t.keyDtor(e.Key)
	}
	if t.valDtor != nil {
		t.valDtor(e.Value)
	}
}

// eraseEntryAt removes the entry at bucket target, known to be a member of
// the chain rooted at home, restoring the chain's links without leaving a
// tombstone. It handles the three cases the home-anchor, tombstone-free
// design admits:
//
//   - solo: target is both the chain's only member and its home bucket.
//   - tail: target is the chain's last member but not its home bucket.
//   - interior: target has successors; the chain's actual tail is copied
//     into target's slot and unlinked from its own predecessor instead,
//     since target's own link must be preserved for whatever follows it.
//
// It returns swapped=true when the interior case fired and moved another
// entry into target's slot; EraseIterator uses this, together with where
// the moved entry came from, to decide whether the bucket at target still
// needs visiting.
func (t *Table[K, V]) eraseEntryAt(home, target uintptr) (swapped bool) {
	m := *t.metaAt(target)

	switch {
	case target == home && m.isEndOfChain():
		t.runDestructors(target)
		t.metaAt(target).clear()

	case m.isEndOfChain():
		pred := t.findPredecessor(home, target)
		t.runDestructors(target)
		t.metaAt(pred).setDisplacement(displacementEndOfChain)
		t.metaAt(target).clear()

	default:
		tail := t.chainTail(home)
		pred := t.findPredecessor(home, tail)
		tailFrag := t.metaAt(tail).hashFragment()

		t.runDestructors(target)
		*t.bucketAt(target) = *t.bucketAt(tail)
		// Replace target's fragment with the moved-in key's fragment, but
		// keep target's own home-bucket flag and displacement link intact —
		// target's position within the chain hasn't changed, only its
		// contents have.
		*t.metaAt(target) = (m &^ hashFragMask) | tailFrag
		if pred == target {
			t.metaAt(target).setDisplacement(displacementEndOfChain)
		} else {
			t.metaAt(pred).setDisplacement(displacementEndOfChain)
		}
		t.metaAt(tail).clear()
		swapped = true
	}

	t.keyCount--
	return swapped
}
