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

package tracetab

import (
	"encoding/binary"
	"os"
	"path"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	file := path.Join(t.TempDir(), "roundtrip.tracetab")

	samples := []Sample{
		{Address: 0x1000, Thread: 0, Timestamp: 0.5, Stack: 0, Function: 0},
		{Address: 0x1000, Thread: 0, Timestamp: 1.5, Stack: 0, Function: 0},
		{Address: 0x2000, Thread: 1, Timestamp: 2.25, Stack: 1, Function: -1},
	}
	frames := []StackFrame{
		{Address: 0x1000, Depth: 1, Caller: 1, Function: 0},
		{Address: 0x2000, Depth: 0, Caller: -1, Function: -1},
		{Address: 0x1080, Depth: 0, Caller: -1, Function: 1},
	}
	functions := []Function{
		{BaseAddress: 0x1000, Length: -1, Module: 0, Name: "Acme.Server.Handle"},
		{BaseAddress: 0x1080, Length: 0x40, Module: 1, Name: "Acme.Jit.Tick"},
	}
	modules := []Module{
		{
			Checksum: 0x1234,
			PdbAge:   3,
			PdbGUID:  [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			Path:     "/usr/lib/acme/server",
			PdbName:  "server.pdb",
		},
		{Mono: true, Path: "/tmp/perf-42.map"},
	}
	threads := []Thread{{Name: "main"}, {Name: ""}}

	w, err := NewWriter(file)
	require.NoError(t, err)
	for _, s := range samples {
		require.NoError(t, w.WriteSample(s))
	}
	for _, f := range frames {
		require.NoError(t, w.WriteStackFrame(f))
	}
	for _, f := range functions {
		require.NoError(t, w.WriteFunction(f))
	}
	for _, m := range modules {
		require.NoError(t, w.WriteModule(m))
	}
	for _, th := range threads {
		require.NoError(t, w.WriteThread(th))
	}
	require.NoError(t, w.Finalize())

	r, err := NewReader(file)
	require.NoError(t, err)
	defer r.Close()

	hdr := r.Header()
	require.Equal(t, Version, hdr.Version)
	require.Equal(t, int32(len(samples)), hdr.Samples.Count)
	require.Equal(t, int32(len(frames)), hdr.StackFrames.Count)
	require.Equal(t, int32(len(functions)), hdr.Functions.Count)
	require.Equal(t, int32(len(modules)), hdr.Modules.Count)
	require.Equal(t, int32(len(threads)), hdr.Threads.Count)

	st, err := os.Stat(file)
	require.NoError(t, err)
	require.Equal(t, st.Size(), hdr.TotalLength)

	gotSamples, err := r.Samples()
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(samples, gotSamples))

	gotFrames, err := r.StackFrames()
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(frames, gotFrames))

	gotFunctions, err := r.Functions()
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(functions, gotFunctions))

	gotModules, err := r.Modules()
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(modules, gotModules))

	gotThreads, err := r.Threads()
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(threads, gotThreads))
}

func TestEmptyArtifact(t *testing.T) {
	file := path.Join(t.TempDir(), "empty.tracetab")

	w, err := NewWriter(file)
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	r, err := NewReader(file)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, int64(HeaderSize), r.Header().TotalLength)

	samples, err := r.Samples()
	require.NoError(t, err)
	require.Empty(t, samples)
}

func TestTableOrderEnforced(t *testing.T) {
	file := path.Join(t.TempDir(), "order.tracetab")

	w, err := NewWriter(file)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteThread(Thread{Name: "main"}))
	require.ErrorIs(t, w.WriteSample(Sample{}), ErrTableOrder)
}

func TestTruncatedArtifactRejected(t *testing.T) {
	file := path.Join(t.TempDir(), "truncated.tracetab")

	w, err := NewWriter(file)
	require.NoError(t, err)
	require.NoError(t, w.WriteSample(Sample{Address: 0x1000, Thread: -1, Stack: -1, Function: -1}))
	require.NoError(t, w.Finalize())

	st, err := os.Stat(file)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(file, st.Size()-1))

	_, err = NewReader(file)
	require.ErrorIs(t, err, ErrBounds)
}

func TestUnfinalizedArtifactRejected(t *testing.T) {
	file := path.Join(t.TempDir(), "unfinalized.tracetab")

	w, err := NewWriter(file)
	require.NoError(t, err)
	require.NoError(t, w.WriteSample(Sample{}))
	require.NoError(t, w.Close())

	// A zeroed header declares version 0.
	_, err = NewReader(file)
	require.Error(t, err)
}

func TestBadVersionRejected(t *testing.T) {
	file := path.Join(t.TempDir(), "version.tracetab")

	w, err := NewWriter(file)
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(b[0:4], 99)
	require.NoError(t, os.WriteFile(file, b, 0o644))

	_, err = NewReader(file)
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestNameTruncation(t *testing.T) {
	file := path.Join(t.TempDir(), "names.tracetab")

	// Multi-byte runes positioned so a naive byte cut would split one.
	long := strings.Repeat("é", MaxNameBytes) // 2 bytes each
	w, err := NewWriter(file)
	require.NoError(t, err)
	require.NoError(t, w.WriteFunction(Function{Length: -1, Module: -1, Name: long}))
	require.NoError(t, w.Finalize())

	r, err := NewReader(file)
	require.NoError(t, err)
	defer r.Close()

	functions, err := r.Functions()
	require.NoError(t, err)
	got := functions[0].Name
	require.True(t, utf8.ValidString(got))
	require.LessOrEqual(t, len(got), MaxNameBytes)
	require.True(t, strings.HasPrefix(long, got))
}

func TestTruncateName(t *testing.T) {
	require.Equal(t, "abc", TruncateName("abc", 8))
	require.Equal(t, "abc", TruncateName("abcdef", 3))
	// "aé" is 3 bytes; cutting at 2 must not split the é.
	require.Equal(t, "a", TruncateName("aé", 2))
	require.Equal(t, "", TruncateName("é", 1))
}
