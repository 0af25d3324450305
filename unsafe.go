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
	"math/bits"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// unsafeSlice is a minimal, pointer-based stand-in for a Go slice: a base
// pointer and nothing else. A Table tracks its own length (bucketCount, or
// bucketCount+4 for the metadata array) separately, so the redundant
// length/capacity words of a real slice header would be wasted space
// repeated across every field. This mirrors the teacher's own
// unsafeSlice[T] helper, used here for exactly the same reason: the hot
// path (bucket/metadata indexing) is pointer arithmetic, not slicing.
type unsafeSlice[T any] struct {
	ptr *T
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	if len(s) == 0 {
		return unsafeSlice[T]{}
	}
	return unsafeSlice[T]{ptr: &s[0]}
}

// At returns a pointer to the i'th element. The caller is responsible for
// ensuring i is in bounds; there is no runtime bounds check.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(unsafe.Pointer(s.ptr), i*unsafe.Sizeof(t)))
}

// Slice reinterprets the backing array as a Go slice of length n. Used only
// to hand a freshly allocated or about-to-be-discarded array back to
// ordinary Go slice operations (allocation, GC rooting); never on the hot
// path.
func (s unsafeSlice[T]) Slice(n uintptr) []T {
	if s.ptr == nil {
		return nil
	}
	return unsafe.Slice(s.ptr, n)
}

// isLittleEndian reports whether the running platform stores the
// least-significant byte of a multi-byte word at the lowest address.
// Queried once from golang.org/x/sys/cpu rather than computed with a
// hand-rolled byte probe, since the platform already does the work of
// classifying the host architecture.
var isLittleEndian = !cpu.IsBigEndian

// firstNonZeroWord locates the first occupied bucket among four consecutive
// metadata words, read together as a single uint64, where "first" means
// nearest the lowest address (i.e., index 0 of the four). It returns an
// index in [0,4); callers must already know at least one of the four words
// is non-zero (the metadata array's trailing sentinel words guarantee this
// for any scan that starts within the real bucket range).
//
// This is the Go equivalent of verstable's vt_first_nonzero_uint16: on a
// little-endian platform the lowest-address word occupies the low bits of
// the combined uint64, so its position is given by the number of trailing
// zero bits divided by 16. On a big-endian platform the lowest-address word
// occupies the high bits instead, so the same lane is found by counting
// leading zero bits.
func firstNonZeroWord(combined uint64) int {
	if isLittleEndian {
		return bits.TrailingZeros64(combined) / 16
	}
	return bits.LeadingZeros64(combined) / 16
}

// loadFourMetadata reads the four metadata words starting at index i as a
// single uint64, in native byte order, for use with firstNonZeroWord.
func (t *Table[K, V]) loadFourMetadata(i uintptr) uint64 {
	p := (*uint64)(unsafe.Pointer(t.metaAt(i)))
	return *p
}

// sliceAsMetadatum reinterprets a []uint16 returned by an Allocator as
// []metadatum; the two types share layout by construction (metadatum's
// underlying type is uint16), so this is the allocator-facing analogue of
// the teacher's own tendency to keep its Allocator interface in terms of
// plain byte/word slices rather than package-internal types.
func sliceAsMetadatum(s []uint16) []metadatum {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*metadatum)(unsafe.Pointer(&s[0])), len(s))
}

// metaWordsView reinterprets a table's metadata array back into the
// []uint16 shape an Allocator's FreeMetadata expects.
func metaWordsView(s unsafeSlice[metadatum], n uintptr) []uint16 {
	if s.ptr == nil {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(s.ptr)), n)
}
