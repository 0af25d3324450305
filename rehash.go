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

// rehash replaces the table's backing arrays with fresh ones sized to the
// smallest power of two >= minBucketCount (but never below
// minNonZeroBucketCount) and reinserts every existing key. If the new size
// still isn't enough to place every key within the displacement limit — an
// exceedingly unlikely event with a reasonable hash function, but possible
// in principle — it doubles again and retries, exactly as the original
// design's rehash does.
func (t *Table[K, V]) rehash(minBucketCount uintptr) {
	if minBucketCount < minNonZeroBucketCount {
		minBucketCount = minNonZeroBucketCount
	}
	bucketCount := nextPowerOfTwo(minBucketCount)

	for !t.tryRehashInto(bucketCount) {
		bucketCount *= 2
	}
}

// tryRehashInto attempts a rehash into a table of the given bucket count,
// rolling the table back to its prior arrays (still perfectly valid) and
// reporting false if some key couldn't be placed within the displacement
// limit at this size.
func (t *Table[K, V]) tryRehashInto(bucketCount uintptr) bool {
	oldMetadata, oldEntries, oldBucketCount := t.metadata, t.buckets, t.bucketCount

	metaWords := t.allocator.AllocMetadata(int(bucketCount) + 4)
	entries := t.allocator.AllocEntries(int(bucketCount))
	for i := bucketCount; i < bucketCount+4; i++ {
		metaWords[i] = uint16(0xFFFF)
	}

	t.metadata = makeUnsafeSlice(sliceAsMetadatum(metaWords))
	t.buckets = makeUnsafeSlice(entries)
	t.bucketCount = bucketCount

	ok := true
	if oldBucketCount > 0 {
		for i := uintptr(0); i < oldBucketCount; i++ {
			m := oldMetadata.At(i)
			if m.isEmpty() {
				continue
			}
			e := oldEntries.At(i)
			hash := noescapeHash(t.hash, e.Key)
			idx, err := t.insertRaw(hash)
			if err != nil {
				ok = false
				break
			}
			*t.bucketAt(idx) = *e
		}
	}

	if !ok {
		t.allocator.FreeMetadata(metaWordsView(t.metadata, bucketCount+4))
		t.allocator.FreeEntries(t.buckets.Slice(bucketCount))
		t.metadata, t.buckets, t.bucketCount = oldMetadata, oldEntries, oldBucketCount
		return false
	}

	if oldBucketCount > 0 {
		t.allocator.FreeMetadata(metaWordsView(oldMetadata, oldBucketCount+4))
		t.allocator.FreeEntries(oldEntries.Slice(oldBucketCount))
	}
	return true
}

// growIfNeeded rehashes to a larger bucket count before an insert if the
// table is empty or the insert would push the key count past the maximum
// load factor's ceiling.
func (t *Table[K, V]) growIfNeeded() {
	if t.bucketCount == 0 {
		t.rehash(minNonZeroBucketCount)
		return
	}
	if t.keyCount+1 > t.capacityCeiling() {
		t.rehash(t.bucketCount * 2)
	}
}

// insertRawGrowing is insertRaw with the displacement-exhaustion
// grow-and-retry loop folded in, so table_ops.go's Insert/GetOrInsert never
// has to think about errDisplacementExhausted.
func (t *Table[K, V]) insertRawGrowing(hash uint64) uintptr {
	t.growIfNeeded()
	for {
		idx, err := t.insertRaw(hash)
		if err == nil {
			return idx
		}
		t.rehash(t.bucketCount * 2)
	}
}

// MinBucketCountForSize returns the smallest bucket count this table would
// need to hold n keys without exceeding its configured max load factor,
// useful for sizing a Reserve call in advance.
func (t *Table[K, V]) MinBucketCountForSize(n int) uintptr {
	return roundUpToPowerOfTwoBucketCount(n, t.maxLoad)
}

// Reserve grows the table, if necessary, so that it can hold n keys in
// total without triggering a further rehash, and is a no-op if it already
// can. It never shrinks the table.
func (t *Table[K, V]) Reserve(n int) {
	want := t.MinBucketCountForSize(n)
	if want > t.bucketCount {
		t.rehash(want)
	}
}

// Shrink rehashes the table to the smallest bucket count that can hold its
// current keys, releasing any excess memory the table has accumulated
// through growth and deletion.
func (t *Table[K, V]) Shrink() {
	want := t.MinBucketCountForSize(t.keyCount)
	if want != t.bucketCount {
		if want == 0 {
			t.freeArrays()
			t.metadata = unsafeSlice[metadatum]{}
			t.buckets = unsafeSlice[Entry[K, V]]{}
			t.bucketCount = 0
			return
		}
		t.rehash(want)
	}
}

// freeArrays hands the table's current backing arrays back to its
// allocator. Used by Shrink-to-zero and Cleanup.
func (t *Table[K, V]) freeArrays() {
	if t.bucketCount == 0 {
		return
	}
	t.allocator.FreeMetadata(metaWordsView(t.metadata, t.bucketCount+4))
	t.allocator.FreeEntries(t.buckets.Slice(t.bucketCount))
}
