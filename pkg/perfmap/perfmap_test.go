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

package perfmap

import (
	"os"
	"path"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func writeMap(t *testing.T, contents string) string {
	t.Helper()
	file := path.Join(t.TempDir(), "perf-42.map")
	require.NoError(t, os.WriteFile(file, []byte(contents), 0o644))
	return file
}

func TestReadMapAndLookup(t *testing.T) {
	file := writeMap(t, ""+
		"1000 40 Acme.Scripts.Tick\n"+
		"0x2000 100 Acme.Scripts.Update\n"+
		"not a parseable line\n"+
		"3000 10 Acme.Scripts.Draw\n")

	m, err := ReadMap(log.NewNopLogger(), file)
	require.NoError(t, err)

	jm, ok := m.JITMethodAt(0x1000)
	require.True(t, ok)
	require.Equal(t, "Acme.Scripts.Tick", jm.Name)
	require.Equal(t, uint64(0x1000), jm.CodeStart)
	require.Equal(t, int64(0x40), jm.CodeSize)
	require.True(t, jm.Module.Mono)
	require.Equal(t, file, jm.Module.Path)

	// Addresses inside a method resolve to it.
	jm, ok = m.JITMethodAt(0x2080)
	require.True(t, ok)
	require.Equal(t, "Acme.Scripts.Update", jm.Name)

	_, ok = m.JITMethodAt(0x1040)
	require.False(t, ok)
	_, ok = m.JITMethodAt(0x9000)
	require.False(t, ok)
}

func TestReadMapKeepsLatestOverlap(t *testing.T) {
	// The runtime recompiled Tick at an overlapping range; the later
	// line wins.
	file := writeMap(t, ""+
		"1000 40 Acme.Scripts.Tick\n"+
		"1020 40 Acme.Scripts.Tick_Tiered\n")

	m, err := ReadMap(log.NewNopLogger(), file)
	require.NoError(t, err)

	jm, ok := m.JITMethodAt(0x1030)
	require.True(t, ok)
	require.Equal(t, "Acme.Scripts.Tick_Tiered", jm.Name)

	_, ok = m.JITMethodAt(0x1010)
	require.False(t, ok)
}

func TestReadMapEmpty(t *testing.T) {
	file := writeMap(t, "garbage\n")

	_, err := ReadMap(log.NewNopLogger(), file)
	require.ErrorIs(t, err, ErrEmptyMap)
}

func TestParseHexToUint64(t *testing.T) {
	v, err := parseHexToUint64([]byte("deadBEEF"))
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), v)

	_, err = parseHexToUint64([]byte(""))
	require.Error(t, err)
	_, err = parseHexToUint64([]byte("12x4"))
	require.Error(t, err)
	_, err = parseHexToUint64([]byte("11112222333344445"))
	require.Error(t, err)
}
