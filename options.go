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
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/dolthub/maphash"
)

// defaultMaxLoad is used when a Table is constructed without WithMaxLoad. It
// matches the original verstable design's default load factor.
const defaultMaxLoad = 0.9

// Option configures a Table at construction time. See NewSet and NewMap.
type Option[K comparable, V any] interface {
	apply(t *Table[K, V])
}

type hashOption[K comparable, V any] struct {
	hash func(K) uint64
}

func (o hashOption[K, V]) apply(t *Table[K, V]) { t.hash = o.hash }

// WithHash overrides the table's hash function. The default, installed by
// NewSet/NewMap, is DefaultHash[K]().
func WithHash[K comparable, V any](hash func(K) uint64) Option[K, V] {
	return hashOption[K, V]{hash}
}

type cmprOption[K comparable, V any] struct {
	cmpr func(K, K) bool
}

func (o cmprOption[K, V]) apply(t *Table[K, V]) { t.cmpr = o.cmpr }

// WithCompare overrides the table's key-equality function. The default is
// CompareEqual[K](), Go's built-in ==.
func WithCompare[K comparable, V any](cmpr func(K, K) bool) Option[K, V] {
	return cmprOption[K, V]{cmpr}
}

type maxLoadOption[K comparable, V any] struct {
	maxLoad float64
}

func (o maxLoadOption[K, V]) apply(t *Table[K, V]) { t.maxLoad = o.maxLoad }

// WithMaxLoad overrides the table's maximum load factor, the fraction of
// buckets that may be occupied before an insert triggers a grow-rehash.
// Must be in (0, 1]; values close to 1 save memory at the cost of more
// frequent eviction chains.
func WithMaxLoad[K comparable, V any](maxLoad float64) Option[K, V] {
	return maxLoadOption[K, V]{maxLoad}
}

type keyDtorOption[K comparable, V any] struct {
	dtor func(K)
}

func (o keyDtorOption[K, V]) apply(t *Table[K, V]) { t.keyDtor = o.dtor }

// WithKeyDestructor registers a callback invoked on a key when it is
// removed from the table, whether by Erase, overwrite, Clear, or Cleanup.
// Relocation during eviction never invokes the destructor; only permanent
// removal does.
func WithKeyDestructor[K comparable, V any](dtor func(K)) Option[K, V] {
	return keyDtorOption[K, V]{dtor}
}

type valDtorOption[K comparable, V any] struct {
	dtor func(V)
}

func (o valDtorOption[K, V]) apply(t *Table[K, V]) { t.valDtor = o.dtor }

// WithValueDestructor registers a callback invoked on a value when its
// entry is removed from the table (see WithKeyDestructor).
func WithValueDestructor[K comparable, V any](dtor func(V)) Option[K, V] {
	return valDtorOption[K, V]{dtor}
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (o allocatorOption[K, V]) apply(t *Table[K, V]) { t.allocator = o.allocator }

// WithAllocator overrides the allocator used for the table's metadata and
// entry arrays. The default wraps Go's make() and leaves freeing to the
// garbage collector, exactly as the teacher's defaultAllocator does for its
// Swiss table.
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) Option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type ctxOption[K comparable, V any] struct {
	ctx any
}

func (o ctxOption[K, V]) apply(t *Table[K, V]) { t.ctx = o.ctx }

// WithContext attaches an opaque context value, retrievable by a
// ContextAllocator, to every allocation the table performs.
func WithContext[K comparable, V any](ctx any) Option[K, V] {
	return ctxOption[K, V]{ctx}
}

// Allocator lets callers control how a Table's backing arrays are
// allocated and freed. The default allocator (installed automatically)
// wraps make() and performs no explicit freeing, relying on the garbage
// collector.
//
// If the allocator manages memory outside the GC's reach, Cleanup must be
// called to ensure FreeEntries and FreeMetadata run.
type Allocator[K comparable, V any] interface {
	// AllocEntries should return a slice equivalent to make([]Entry[K,V], n).
	AllocEntries(n int) []Entry[K, V]
	// AllocMetadata should return a slice equivalent to make([]uint16, n).
	AllocMetadata(n int) []uint16
	// FreeEntries may optionally release the memory backing a slice
	// previously returned by AllocEntries.
	FreeEntries(v []Entry[K, V])
	// FreeMetadata may optionally release the memory backing a slice
	// previously returned by AllocMetadata.
	FreeMetadata(v []uint16)
}

// ContextAllocator is an Allocator variant that additionally receives the
// opaque context installed via WithContext, for callers whose allocation
// strategy depends on caller-supplied state (an arena, a pool keyed by
// tenant, etc).
type ContextAllocator[K comparable, V any] interface {
	Allocator[K, V]
	WithContext(ctx any) Allocator[K, V]
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocEntries(n int) []Entry[K, V] { return make([]Entry[K, V], n) }
func (defaultAllocator[K, V]) AllocMetadata(n int) []uint16     { return make([]uint16, n) }
func (defaultAllocator[K, V]) FreeEntries(v []Entry[K, V])      {}
func (defaultAllocator[K, V]) FreeMetadata(v []uint16)          {}

// CompareEqual returns the default key-equality function: Go's built-in ==,
// valid for any comparable type.
func CompareEqual[K comparable]() func(K, K) bool {
	return func(a, b K) bool { return a == b }
}

// DefaultHash returns a randomly seeded hash function for any comparable
// key type K, built on github.com/dolthub/maphash's use of Go's runtime
// AES-based hasher. This is the table's default hash function and is the
// idiomatic Go analogue of the original design's default integer/string
// hashers: one generic hasher that works for any comparable type instead of
// a family of per-type functions.
func DefaultHash[K comparable]() func(K) uint64 {
	h := maphash.NewHasher[K]()
	return func(k K) uint64 { return h.Hash(k) }
}

// HashString returns a hash function for string keys backed by xxHash64,
// an opt-in alternative to DefaultHash for callers who hash large volumes
// of string keys and want a fast, non-cryptographic hash with
// well-documented avalanche properties.
func HashString() func(string) uint64 {
	return func(s string) uint64 { return xxhash.Sum64String(s) }
}

// HashBytes returns a hash function for []byte keys backed by xxHash64.
func HashBytes() func([]byte) uint64 {
	return func(b []byte) uint64 { return xxhash.Sum64(b) }
}

// noescapeHash hides the key passed to a caller-supplied hash function from
// escape analysis, the same trick the teacher applies to its own hashFn
// invocations on the hot insert/get path.
func noescapeHash[K comparable](hash func(K) uint64, k K) uint64 {
	kp := (*K)(noescape(unsafe.Pointer(&k)))
	return hash(*kp)
}
