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

import "errors"

// errDisplacementExhausted signals that no empty bucket could be reached by
// quadratic probing from a chain's home bucket within the 11-bit
// displacement field's range. It never escapes the package: every call site
// that can produce it is wrapped by a grow-and-retry loop (see rehash.go),
// since the condition only arises under pathological hash distribution or
// a load factor so close to 1 that growth is the correct response anyway.
//
// Lookup and deletion report a missing key the idiomatic Go way, via a
// boolean result (Get's second return value, Erase's only one), not an
// error.
var errDisplacementExhausted = errors.New("vstable: no empty bucket reachable within the displacement limit")
