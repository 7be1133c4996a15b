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

package intern

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddOrLookupDedup(t *testing.T) {
	tbl := NewTable[string]("")

	require.Equal(t, int32(0), tbl.AddOrLookup("a"))
	require.Equal(t, int32(1), tbl.AddOrLookup("b"))
	require.Equal(t, int32(2), tbl.AddOrLookup("c"))

	require.Equal(t, int32(0), tbl.AddOrLookup("a"))
	require.Equal(t, int32(2), tbl.AddOrLookup("c"))

	require.Equal(t, int32(3), tbl.Count())
	require.Equal(t, []string{"a", "b", "c"}, tbl.Keys())
}

func TestInvalidKeyNeverInterned(t *testing.T) {
	tbl := NewTable[int64](-1)

	require.Equal(t, int32(-1), tbl.AddOrLookup(-1))
	require.Equal(t, int32(0), tbl.Count())

	require.Equal(t, int32(0), tbl.AddOrLookup(42))
	require.Equal(t, int32(-1), tbl.AddOrLookup(-1))
	require.Equal(t, int32(1), tbl.Count())
}

// The stack frame drain relies on interning new keys while iterating,
// re-reading the count each step. Model a caller chain where handling
// key n interns key n-1 down to zero.
func TestGrowWhileDraining(t *testing.T) {
	tbl := NewTable[int](-1)
	tbl.AddOrLookup(5)

	for i := int32(0); i < tbl.Count(); i++ {
		k := tbl.Get(i)
		if k > 0 {
			tbl.AddOrLookup(k - 1)
		}
	}

	require.Equal(t, int32(6), tbl.Count())
	require.Equal(t, []int{5, 4, 3, 2, 1, 0}, tbl.Keys())
}
