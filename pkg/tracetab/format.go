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

// Package tracetab implements the trace table artifact format: five
// fixed-record tables (samples, stack frames, functions, modules,
// threads) indexed by a header so a reader can load any one table
// without touching the others.
//
// All multi-byte fields are little-endian. Records are encoded
// field-by-field into scratch buffers; sizes are explicit constants and
// do not depend on in-memory struct layout.
//
//	┌────────┬─────────┬──────────────┬───────────┬─────────┬─────────┐
//	│ Header │ Samples │ Stack frames │ Functions │ Modules │ Threads │
//	└────────┴─────────┴──────────────┴───────────┴─────────┴─────────┘
//
// Header offsets are byte distances from the start of the header.
// Strings are stored inline with a uint16 byte-length prefix in a
// fixed-capacity buffer; longer names are truncated at a UTF-8
// codepoint boundary and the buffer tail is zero-filled.
package tracetab

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

const (
	// Version identifies this layout. Readers reject anything else.
	Version int32 = 1

	// MaxNameBytes bounds function, thread and pdb names.
	MaxNameBytes = 128
	// MaxPathBytes bounds module file paths.
	MaxPathBytes = 256
)

const (
	fixedNameSize = 2 + MaxNameBytes
	fixedPathSize = 2 + MaxPathBytes

	// HeaderSize is Version(4) + pad(4), five offset(8)+count(4)+pad(4)
	// groups, and TotalLength(8).
	HeaderSize = 8 + 5*16 + 8

	SampleSize     = 8 + 4 + 8 + 4 + 4
	StackFrameSize = 8 + 4 + 4 + 4
	FunctionSize   = 8 + 8 + 4 + fixedNameSize
	ModuleSize     = 4 + 4 + 4 + 16 + fixedPathSize + fixedNameSize
	ThreadSize     = fixedNameSize
)

// TableInfo locates one table within the artifact.
type TableInfo struct {
	Offset int64
	Count  int32
}

// Header is the artifact directory, written at offset zero.
type Header struct {
	Version     int32
	Samples     TableInfo
	StackFrames TableInfo
	Functions   TableInfo
	Modules     TableInfo
	Threads     TableInfo
	TotalLength int64
}

// Sample is one qualifying trace event.
type Sample struct {
	Address   int64
	Thread    int32   // index into the thread table, or -1
	Timestamp float64 // milliseconds relative to trace start
	Stack     int32   // index into the stack frame table, or -1
	Function  int32   // index into the function table, or -1
}

// StackFrame is one (address, caller) link of a sampled call chain.
// Frames form a forest: following Caller terminates at -1.
type StackFrame struct {
	Address  int64
	Depth    int32
	Caller   int32 // index of the parent frame, or -1 for a root
	Function int32 // index into the function table, or -1
}

// Function is one resolved method, whether symbolized from a module's
// debug image or discovered through a JIT lookup.
type Function struct {
	BaseAddress int64
	Length      int64 // compiled code size, or -1 if unknown
	Module      int32 // index into the module table, or -1
	Name        string
}

// Module describes one binary image. Managed (mono) modules have no
// on-disk debug image; their Checksum, PdbAge, PdbGUID and PdbName are
// zero.
type Module struct {
	Mono     bool
	Checksum int32
	PdbAge   int32
	PdbGUID  [16]byte
	Path     string
	PdbName  string
}

// Thread carries the (possibly empty) thread name.
type Thread struct {
	Name string
}

func putFixedString(b []byte, s string, capacity int) {
	s = TruncateName(s, capacity)
	binary.LittleEndian.PutUint16(b[:2], uint16(len(s)))
	copy(b[2:2+capacity], s)
}

func getFixedString(b []byte, capacity int) string {
	n := int(binary.LittleEndian.Uint16(b[:2]))
	if n > capacity {
		n = capacity
	}
	return string(b[2 : 2+n])
}

// TruncateName bounds s to capacity bytes, cutting at a UTF-8 codepoint
// boundary so a multi-byte rune is never split.
func TruncateName(s string, capacity int) string {
	if len(s) <= capacity {
		return s
	}
	for capacity > 0 && !utf8.RuneStart(s[capacity]) {
		capacity--
	}
	return s[:capacity]
}

func encodeHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Version))
	tables := []TableInfo{h.Samples, h.StackFrames, h.Functions, h.Modules, h.Threads}
	for i, t := range tables {
		off := 8 + i*16
		binary.LittleEndian.PutUint64(b[off:off+8], uint64(t.Offset))
		binary.LittleEndian.PutUint32(b[off+8:off+12], uint32(t.Count))
	}
	binary.LittleEndian.PutUint64(b[88:96], uint64(h.TotalLength))
}

func decodeHeader(b []byte) Header {
	h := Header{Version: int32(binary.LittleEndian.Uint32(b[0:4]))}
	tables := []*TableInfo{&h.Samples, &h.StackFrames, &h.Functions, &h.Modules, &h.Threads}
	for i, t := range tables {
		off := 8 + i*16
		t.Offset = int64(binary.LittleEndian.Uint64(b[off : off+8]))
		t.Count = int32(binary.LittleEndian.Uint32(b[off+8 : off+12]))
	}
	h.TotalLength = int64(binary.LittleEndian.Uint64(b[88:96]))
	return h
}

func encodeSample(b []byte, s Sample) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(s.Address))
	binary.LittleEndian.PutUint32(b[8:12], uint32(s.Thread))
	binary.LittleEndian.PutUint64(b[12:20], math.Float64bits(s.Timestamp))
	binary.LittleEndian.PutUint32(b[20:24], uint32(s.Stack))
	binary.LittleEndian.PutUint32(b[24:28], uint32(s.Function))
}

func decodeSample(b []byte) Sample {
	return Sample{
		Address:   int64(binary.LittleEndian.Uint64(b[0:8])),
		Thread:    int32(binary.LittleEndian.Uint32(b[8:12])),
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(b[12:20])),
		Stack:     int32(binary.LittleEndian.Uint32(b[20:24])),
		Function:  int32(binary.LittleEndian.Uint32(b[24:28])),
	}
}

func encodeStackFrame(b []byte, f StackFrame) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(f.Address))
	binary.LittleEndian.PutUint32(b[8:12], uint32(f.Depth))
	binary.LittleEndian.PutUint32(b[12:16], uint32(f.Caller))
	binary.LittleEndian.PutUint32(b[16:20], uint32(f.Function))
}

func decodeStackFrame(b []byte) StackFrame {
	return StackFrame{
		Address:  int64(binary.LittleEndian.Uint64(b[0:8])),
		Depth:    int32(binary.LittleEndian.Uint32(b[8:12])),
		Caller:   int32(binary.LittleEndian.Uint32(b[12:16])),
		Function: int32(binary.LittleEndian.Uint32(b[16:20])),
	}
}

func encodeFunction(b []byte, f Function) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(f.BaseAddress))
	binary.LittleEndian.PutUint64(b[8:16], uint64(f.Length))
	binary.LittleEndian.PutUint32(b[16:20], uint32(f.Module))
	putFixedString(b[20:], f.Name, MaxNameBytes)
}

func decodeFunction(b []byte) Function {
	return Function{
		BaseAddress: int64(binary.LittleEndian.Uint64(b[0:8])),
		Length:      int64(binary.LittleEndian.Uint64(b[8:16])),
		Module:      int32(binary.LittleEndian.Uint32(b[16:20])),
		Name:        getFixedString(b[20:], MaxNameBytes),
	}
}

func encodeModule(b []byte, m Module) {
	if m.Mono {
		b[0] = 1
	}
	binary.LittleEndian.PutUint32(b[4:8], uint32(m.Checksum))
	binary.LittleEndian.PutUint32(b[8:12], uint32(m.PdbAge))
	copy(b[12:28], m.PdbGUID[:])
	putFixedString(b[28:], m.Path, MaxPathBytes)
	putFixedString(b[28+fixedPathSize:], m.PdbName, MaxNameBytes)
}

func decodeModule(b []byte) Module {
	m := Module{
		Mono:     b[0] != 0,
		Checksum: int32(binary.LittleEndian.Uint32(b[4:8])),
		PdbAge:   int32(binary.LittleEndian.Uint32(b[8:12])),
		Path:     getFixedString(b[28:], MaxPathBytes),
		PdbName:  getFixedString(b[28+fixedPathSize:], MaxNameBytes),
	}
	copy(m.PdbGUID[:], b[12:28])
	return m
}

func encodeThread(b []byte, t Thread) {
	putFixedString(b, t.Name, MaxNameBytes)
}

func decodeThread(b []byte) Thread {
	return Thread{Name: getFixedString(b, MaxNameBytes)}
}
