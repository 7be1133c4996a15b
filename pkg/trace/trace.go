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

// Package trace defines the contracts between the converter and its
// collaborators: the capture event source, and the lookup service for
// JIT-compiled code.
package trace

// StackID is the capture's handle for one (address, caller) link of a
// call chain. Equal handles denote the same chain.
type StackID int64

// ThreadID is the capture's handle for a thread.
type ThreadID int64

const (
	NoStack  StackID  = -1
	NoThread ThreadID = -1
)

// Sample is one sampled instruction pointer, attributed to a process,
// thread and call stack.
type Sample struct {
	PID       int
	Timestamp float64 // milliseconds relative to trace start
	Address   uint64
	Stack     StackID
	Thread    ThreadID
}

// Frame is one expanded stack link. Caller is NoStack for the root of
// the chain.
type Frame struct {
	Address uint64
	Depth   int32
	Caller  StackID
}

// Module identifies a binary image. It doubles as the module interning
// key, so two Modules are the same table entry exactly when all fields
// are equal. Managed (mono) modules carry only a path.
type Module struct {
	Mono     bool
	Path     string
	Checksum int32
	PdbAge   int32
	PdbGUID  [16]byte
	PdbName  string
}

// Method is a symbol-resolved method from the capture's own method
// table. RVA is the method start, relative to nothing in particular:
// it is recorded as the function base address. The compiled code extent
// of a symbolized method is not tracked.
type Method struct {
	Module Module
	Name   string
	RVA    uint64
}

// JITMethod is a runtime-compiled method found by address lookup, with
// known compiled code bounds.
type JITMethod struct {
	Module    Module
	Name      string
	CodeStart uint64
	CodeSize  int64
}

// Source is the capture event source. Implementations own the raw
// capture format and the human-readable conversion log; Close flushes
// and releases both.
type Source interface {
	// FindProcess resolves the target process name. A false return is
	// not an error: conversion proceeds and yields a degenerate
	// artifact.
	FindProcess(name string) (pid int, ok bool)

	// Samples streams every sample event in capture order. Returning an
	// error from fn aborts the stream and surfaces that error.
	Samples(fn func(Sample) error) error

	// Stack expands a stack handle into its frame.
	Stack(id StackID) (Frame, bool)

	// ThreadName returns the thread's name, which may be empty.
	ThreadName(id ThreadID) string

	// MethodAt resolves a code address through the capture's own,
	// already symbolized method table.
	MethodAt(addr uint64) (Method, bool)

	// LoadedModules lists every module loaded by the process, whether
	// or not any sample references it.
	LoadedModules(pid int) []Module

	Close() error
}

// JITResolver maps a code address to a runtime-compiled method.
type JITResolver interface {
	JITMethodAt(addr uint64) (JITMethod, bool)
}
