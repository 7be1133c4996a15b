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
	"errors"
	"fmt"

	"golang.org/x/exp/mmap"
)

var (
	ErrBadVersion = errors.New("unsupported artifact version")
	ErrBounds     = errors.New("artifact bounds exceed stream length")
)

// Reader loads tables from an artifact. The file is mapped with
// mmap(2) so tables can be loaded independently and in any order
// without buffering the whole artifact.
//
// The header and every table extent are validated up front; a
// truncated or corrupt artifact is rejected as a whole rather than
// yielding partial tables. Cross-table indices are not validated:
// by construction they are -1 or in range, and consumers are expected
// to treat them defensively regardless.
type Reader struct {
	r   *mmap.ReaderAt
	hdr Header
}

// NewReader opens and validates the artifact at path.
func NewReader(path string) (*Reader, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap.Open: %w", err)
	}
	hdr, err := validateArtifact(r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return &Reader{r: r, hdr: hdr}, nil
}

func validateArtifact(r *mmap.ReaderAt) (Header, error) {
	if r.Len() < HeaderSize {
		return Header{}, fmt.Errorf("stream shorter than header: %w", ErrBounds)
	}
	var hb [HeaderSize]byte
	if _, err := r.ReadAt(hb[:], 0); err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	hdr := decodeHeader(hb[:])

	if hdr.Version != Version {
		return Header{}, fmt.Errorf("version %d: %w", hdr.Version, ErrBadVersion)
	}
	if hdr.TotalLength < HeaderSize || hdr.TotalLength > int64(r.Len()) {
		return Header{}, fmt.Errorf("total length %d, stream length %d: %w", hdr.TotalLength, r.Len(), ErrBounds)
	}
	for _, t := range []struct {
		name string
		info TableInfo
		size int
	}{
		{"samples", hdr.Samples, SampleSize},
		{"stack frames", hdr.StackFrames, StackFrameSize},
		{"functions", hdr.Functions, FunctionSize},
		{"modules", hdr.Modules, ModuleSize},
		{"threads", hdr.Threads, ThreadSize},
	} {
		if t.info.Count < 0 {
			return Header{}, fmt.Errorf("%s count %d: %w", t.name, t.info.Count, ErrBounds)
		}
		if t.info.Count == 0 {
			continue
		}
		end := t.info.Offset + int64(t.info.Count)*int64(t.size)
		if t.info.Offset < HeaderSize || end > hdr.TotalLength {
			return Header{}, fmt.Errorf("%s table extent [%d, %d): %w", t.name, t.info.Offset, end, ErrBounds)
		}
	}
	return hdr, nil
}

// Header returns the validated artifact header.
func (r *Reader) Header() Header {
	return r.hdr
}

func (r *Reader) Close() error {
	return r.r.Close()
}

func (r *Reader) tableBytes(info TableInfo, size int) ([]byte, error) {
	if info.Count == 0 {
		return nil, nil
	}
	b := make([]byte, int(info.Count)*size)
	if _, err := r.r.ReadAt(b, info.Offset); err != nil {
		return nil, fmt.Errorf("mmap.ReadAt: %w", err)
	}
	return b, nil
}

func (r *Reader) Samples() ([]Sample, error) {
	b, err := r.tableBytes(r.hdr.Samples, SampleSize)
	if err != nil {
		return nil, err
	}
	out := make([]Sample, r.hdr.Samples.Count)
	for i := range out {
		out[i] = decodeSample(b[i*SampleSize:])
	}
	return out, nil
}

func (r *Reader) StackFrames() ([]StackFrame, error) {
	b, err := r.tableBytes(r.hdr.StackFrames, StackFrameSize)
	if err != nil {
		return nil, err
	}
	out := make([]StackFrame, r.hdr.StackFrames.Count)
	for i := range out {
		out[i] = decodeStackFrame(b[i*StackFrameSize:])
	}
	return out, nil
}

func (r *Reader) Functions() ([]Function, error) {
	b, err := r.tableBytes(r.hdr.Functions, FunctionSize)
	if err != nil {
		return nil, err
	}
	out := make([]Function, r.hdr.Functions.Count)
	for i := range out {
		out[i] = decodeFunction(b[i*FunctionSize:])
	}
	return out, nil
}

func (r *Reader) Modules() ([]Module, error) {
	b, err := r.tableBytes(r.hdr.Modules, ModuleSize)
	if err != nil {
		return nil, err
	}
	out := make([]Module, r.hdr.Modules.Count)
	for i := range out {
		out[i] = decodeModule(b[i*ModuleSize:])
	}
	return out, nil
}

func (r *Reader) Threads() ([]Thread, error) {
	b, err := r.tableBytes(r.hdr.Threads, ThreadSize)
	if err != nil {
		return nil, err
	}
	out := make([]Thread, r.hdr.Threads.Count)
	for i := range out {
		out[i] = decodeThread(b[i*ThreadSize:])
	}
	return out, nil
}
