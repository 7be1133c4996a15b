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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrTableOrder = errors.New("tables must be written in artifact order")
	ErrFinalized  = errors.New("writer already finalized")
)

const (
	tableNone = iota - 1
	tableSamples
	tableStackFrames
	tableFunctions
	tableModules
	tableThreads
)

// Writer streams records into an artifact file. A zeroed header is
// reserved up front and patched by Finalize once all counts and offsets
// are known; until then the file is not a valid artifact.
//
// Tables must be written in artifact order (samples, stack frames,
// functions, modules, threads); any of them may be empty. A Writer is
// single-use and not safe for concurrent use.
type Writer struct {
	f         *os.File
	w         *bufio.Writer
	hdr       Header
	off       int64
	table     int
	finalized bool
	buf       [ModuleSize]byte
}

// NewWriter creates path and reserves space for the header.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	w := bufio.NewWriter(f)
	// Dummy header, overwritten by Finalize.
	if _, err := w.Write(make([]byte, HeaderSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("reserve header: %w", err)
	}
	return &Writer{
		f:     f,
		w:     w,
		hdr:   Header{Version: Version},
		off:   HeaderSize,
		table: tableNone,
	}, nil
}

func (w *Writer) WriteSample(s Sample) error {
	b, err := w.begin(tableSamples, &w.hdr.Samples, SampleSize)
	if err != nil {
		return err
	}
	encodeSample(b, s)
	return w.commit(b, &w.hdr.Samples)
}

func (w *Writer) WriteStackFrame(f StackFrame) error {
	b, err := w.begin(tableStackFrames, &w.hdr.StackFrames, StackFrameSize)
	if err != nil {
		return err
	}
	encodeStackFrame(b, f)
	return w.commit(b, &w.hdr.StackFrames)
}

func (w *Writer) WriteFunction(f Function) error {
	b, err := w.begin(tableFunctions, &w.hdr.Functions, FunctionSize)
	if err != nil {
		return err
	}
	encodeFunction(b, f)
	return w.commit(b, &w.hdr.Functions)
}

func (w *Writer) WriteModule(m Module) error {
	b, err := w.begin(tableModules, &w.hdr.Modules, ModuleSize)
	if err != nil {
		return err
	}
	encodeModule(b, m)
	return w.commit(b, &w.hdr.Modules)
}

func (w *Writer) WriteThread(t Thread) error {
	b, err := w.begin(tableThreads, &w.hdr.Threads, ThreadSize)
	if err != nil {
		return err
	}
	encodeThread(b, t)
	return w.commit(b, &w.hdr.Threads)
}

func (w *Writer) begin(table int, info *TableInfo, size int) ([]byte, error) {
	if w.finalized {
		return nil, ErrFinalized
	}
	if table < w.table {
		return nil, ErrTableOrder
	}
	if table > w.table {
		w.table = table
		info.Offset = w.off
	}
	b := w.buf[:size]
	clear(b)
	return b, nil
}

func (w *Writer) commit(b []byte, info *TableInfo) error {
	n, err := w.w.Write(b)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.off += int64(n)
	info.Count++
	return nil
}

// Finalize patches the header with final offsets, counts and the total
// length, flushes and closes the file. Only after Finalize returns is
// the file a valid artifact.
func (w *Writer) Finalize() error {
	if w.finalized {
		return ErrFinalized
	}
	w.finalized = true

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	w.hdr.TotalLength = w.off

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to header: %w", err)
	}
	var hb [HeaderSize]byte
	encodeHeader(hb[:], w.hdr)
	if _, err := w.f.Write(hb[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return w.f.Close()
}

// Close abandons the writer without finalizing. The file is left with a
// zeroed header and is not a valid artifact.
func (w *Writer) Close() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	return w.f.Close()
}
