// Copyright 2025-2026 The Tracetab Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package intern deduplicates streams of keys into dense integer indices.
package intern

// Table assigns each distinct key a dense index in first-seen order.
// Entries are append-only; there is no removal. A Table is not safe for
// concurrent use.
//
// A Table may be grown while it is being drained with an index-based
// loop, as long as the loop re-reads Count each iteration:
//
//	for i := int32(0); i < t.Count(); i++ {
//		k := t.Get(i)
//		// handling k may call t.AddOrLookup and extend the table
//	}
type Table[K comparable] struct {
	invalid K
	indices map[K]int32
	keys    []K
}

// NewTable returns an empty table. Keys equal to invalid are never
// interned; AddOrLookup returns -1 for them.
func NewTable[K comparable](invalid K) *Table[K] {
	return &Table[K]{
		invalid: invalid,
		indices: make(map[K]int32),
	}
}

// AddOrLookup returns the index of key, interning it first if it has not
// been seen before. The invalid key maps to -1 and does not grow the
// table.
func (t *Table[K]) AddOrLookup(key K) int32 {
	if key == t.invalid {
		return -1
	}
	if i, ok := t.indices[key]; ok {
		return i
	}
	i := int32(len(t.keys))
	t.indices[key] = i
	t.keys = append(t.keys, key)
	return i
}

// Count returns the number of interned keys.
func (t *Table[K]) Count() int32 {
	return int32(len(t.keys))
}

// Get returns the key at index i in first-seen order.
func (t *Table[K]) Get(i int32) K {
	return t.keys[i]
}

// Keys returns the backing slice of interned keys in first-seen order.
// The slice is live: it must not be held across further AddOrLookup
// calls.
func (t *Table[K]) Keys() []K {
	return t.keys
}
