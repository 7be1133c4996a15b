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

// Package perfmap resolves JIT-compiled code addresses through perf map
// files: text files of "START SIZE NAME" lines that managed runtimes
// append to as they compile methods.
package perfmap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tracetab-dev/tracetab/pkg/trace"
)

var ErrEmptyMap = errors.New("perf map is empty")

type mapAddr struct {
	start uint64
	end   uint64
	name  string
}

// Map is a parsed, sorted, deduplicated perf map. It satisfies
// trace.JITResolver; the JIT methods it reports belong to a single
// managed module identified by the map file path.
type Map struct {
	module trace.Module
	addrs  []mapAddr
}

// ReadMap parses the perf map at path. Unparseable lines are skipped
// and logged at debug level; runtimes interleave writers often enough
// that a handful of mangled lines is expected.
func ReadMap(logger log.Logger, path string) (*Map, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open perf map: %w", err)
	}
	defer fd.Close()

	var (
		addrs    []mapAddr
		lineErrs error
	)
	r := bufio.NewReader(fd)
	for i := 0; ; i++ {
		b, err := r.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read perf map line: %w", err)
		}
		a, perr := parseLine(b)
		if perr != nil {
			lineErrs = errors.Join(lineErrs, fmt.Errorf("line %d: %w", i, perr))
			continue
		}
		addrs = append(addrs, a)
	}
	if lineErrs != nil {
		level.Debug(logger).Log("msg", "some perf map lines could not be parsed", "path", path, "err", lineErrs)
	}
	if len(addrs) == 0 {
		return nil, ErrEmptyMap
	}

	// Sorted by end address so lookups can binary-search for the entry
	// whose range still covers the queried address.
	sort.SliceStable(addrs, func(i, j int) bool {
		return addrs[i].end < addrs[j].end
	})

	return &Map{
		module: trace.Module{Mono: true, Path: path},
		addrs:  deduplicate(addrs),
	}, nil
}

// deduplicate drops mappings overlapped by a later one. Runtimes
// re-emit a method when they recompile it at the same or overlapping
// addresses, and the last emission is the live one.
func deduplicate(addrs []mapAddr) []mapAddr {
	keep := roaring.NewBitmap()
	lowest := uint64(math.MaxUint64)
	for i := len(addrs) - 1; i >= 0; i-- {
		if addrs[i].end > lowest {
			continue
		}
		keep.Add(uint32(i))
		lowest = addrs[i].start
	}
	if int(keep.GetCardinality()) == len(addrs) {
		return addrs
	}

	out := make([]mapAddr, 0, keep.GetCardinality())
	it := keep.Iterator()
	for it.HasNext() {
		out = append(out, addrs[it.Next()])
	}
	return out
}

func parseLine(b []byte) (mapAddr, error) {
	firstSpace := bytes.IndexByte(b, ' ')
	if firstSpace == -1 {
		return mapAddr{}, errors.New("invalid line")
	}
	secondSpace := bytes.IndexByte(b[firstSpace+1:], ' ')
	if secondSpace == -1 {
		return mapAddr{}, errors.New("invalid line")
	}

	addrBytes := b[:firstSpace]
	// Some runtimes prefix addresses with "0x".
	if len(addrBytes) >= 2 && addrBytes[0] == '0' && addrBytes[1] == 'x' {
		addrBytes = addrBytes[2:]
	}
	sizeBytes := b[firstSpace+1 : firstSpace+1+secondSpace]
	nameBytes := b[firstSpace+secondSpace+2:]

	start, err := parseHexToUint64(addrBytes)
	if err != nil {
		return mapAddr{}, fmt.Errorf("parsing start: %w", err)
	}
	size, err := parseHexToUint64(sizeBytes)
	if err != nil {
		return mapAddr{}, fmt.Errorf("parsing size: %w", err)
	}
	if start+size < start {
		return mapAddr{}, errors.New("overflowed mapping")
	}

	nameBytes = bytes.TrimRight(nameBytes, "\r\n")
	if len(nameBytes) == 0 {
		return mapAddr{}, errors.New("empty name")
	}

	return mapAddr{
		start: start,
		end:   start + size,
		name:  string(nameBytes),
	}, nil
}

// JITMethodAt implements trace.JITResolver.
func (m *Map) JITMethodAt(addr uint64) (trace.JITMethod, bool) {
	i := sort.Search(len(m.addrs), func(i int) bool {
		return m.addrs[i].end > addr
	})
	if i == len(m.addrs) || m.addrs[i].start > addr {
		return trace.JITMethod{}, false
	}
	a := m.addrs[i]
	return trace.JITMethod{
		Module:    m.module,
		Name:      a.name,
		CodeStart: a.start,
		CodeSize:  int64(a.end - a.start),
	}, true
}
