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

// Package convert turns a capture event source into a trace table
// artifact in a single pass, discovering and deduplicating every
// referenced stack frame, function, module and thread along the way.
package convert

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tracetab-dev/tracetab/pkg/intern"
	"github.com/tracetab-dev/tracetab/pkg/trace"
	"github.com/tracetab-dev/tracetab/pkg/tracetab"
)

// Converter owns the interning state of one conversion. It is
// single-use: allocate one per Convert call. Not safe for concurrent
// use.
type Converter struct {
	logger  log.Logger
	metrics *metrics
	jit     trace.JITResolver

	threads   *intern.Table[trace.ThreadID]
	stacks    *intern.Table[trace.StackID]
	functions *intern.Table[functionKey]
	modules   *intern.Table[trace.Module]

	sampleCount int64
}

// New returns a Converter. jit may be nil, in which case addresses
// outside the capture's method table stay unresolved.
func New(logger log.Logger, reg prometheus.Registerer, jit trace.JITResolver) *Converter {
	return &Converter{
		logger:    logger,
		metrics:   newMetrics(reg),
		jit:       jit,
		threads:   intern.NewTable[trace.ThreadID](trace.NoThread),
		stacks:    intern.NewTable[trace.StackID](trace.NoStack),
		functions: intern.NewTable[functionKey](functionKey{}),
		modules:   intern.NewTable[trace.Module](trace.Module{}),
	}
}

// Convert streams the capture's samples for the named process into w,
// then emits the stack frame, function, module and thread tables it
// discovered, and finalizes the artifact.
//
// An unknown process name is a soft failure: a warning is logged and
// the artifact is finalized with zero samples. Addresses that resolve
// to no function are recorded as -1, not errors.
func (c *Converter) Convert(src trace.Source, w *tracetab.Writer, process string) error {
	pid, ok := src.FindProcess(process)
	if !ok {
		level.Warn(c.logger).Log("msg", "target process not found in capture, emitting degenerate artifact", "process", process)
		pid = -1
	}

	if err := c.writeSamples(src, w, pid); err != nil {
		return err
	}
	if err := c.writeStackFrames(src, w); err != nil {
		return err
	}
	if err := c.writeFunctions(w); err != nil {
		return err
	}
	if err := c.writeModules(src, w, pid); err != nil {
		return err
	}
	if err := c.writeThreads(src, w); err != nil {
		return err
	}

	if err := w.Finalize(); err != nil {
		return fmt.Errorf("finalize artifact: %w", err)
	}
	level.Info(c.logger).Log(
		"msg", "conversion finished",
		"samples", c.sampleCount,
		"stack_frames", c.stacks.Count(),
		"functions", c.functions.Count(),
		"modules", c.modules.Count(),
		"threads", c.threads.Count(),
	)
	return nil
}

// writeSamples streams qualifying events straight to the writer;
// samples are never buffered in memory. Interning the sample's stack
// handle seeds the stack frame work-list drained afterwards.
func (c *Converter) writeSamples(src trace.Source, w *tracetab.Writer, pid int) error {
	err := src.Samples(func(s trace.Sample) error {
		if s.PID != pid {
			return nil
		}
		c.metrics.samples.Inc()
		c.sampleCount++
		return w.WriteSample(tracetab.Sample{
			Address:   int64(s.Address),
			Thread:    c.threads.AddOrLookup(s.Thread),
			Timestamp: s.Timestamp,
			Stack:     c.stacks.AddOrLookup(s.Stack),
			Function:  c.resolveFunction(src, s.Address),
		})
	})
	if err != nil {
		return fmt.Errorf("stream samples: %w", err)
	}
	return nil
}

// writeStackFrames drains the stack work-list. Interning a frame's
// caller may append a handle not seen before, so the bound is re-read
// every iteration; that is what materializes the full ancestor chain of
// every sampled stack even though samples only intern leaf frames.
// Emission order is first-seen discovery order, not depth order.
func (c *Converter) writeStackFrames(src trace.Source, w *tracetab.Writer) error {
	for i := int32(0); i < c.stacks.Count(); i++ {
		id := c.stacks.Get(i)
		fr, ok := src.Stack(id)
		if !ok {
			// Keep record index i aligned with the interned handle.
			level.Warn(c.logger).Log("msg", "stack handle missing from capture", "stack", id)
			if err := w.WriteStackFrame(tracetab.StackFrame{Caller: -1, Function: -1}); err != nil {
				return fmt.Errorf("write stack frame: %w", err)
			}
			continue
		}
		c.metrics.stackFrames.Inc()
		err := w.WriteStackFrame(tracetab.StackFrame{
			Address:  int64(fr.Address),
			Depth:    fr.Depth,
			Caller:   c.stacks.AddOrLookup(fr.Caller),
			Function: c.resolveFunction(src, fr.Address),
		})
		if err != nil {
			return fmt.Errorf("write stack frame: %w", err)
		}
	}
	return nil
}

func (c *Converter) writeFunctions(w *tracetab.Writer) error {
	for _, key := range c.functions.Keys() {
		if len(key.name) > tracetab.MaxNameBytes {
			c.metrics.truncatedNames.Inc()
		}
		err := w.WriteFunction(tracetab.Function{
			BaseAddress: int64(key.base),
			Length:      key.size,
			Module:      key.module,
			Name:        key.name,
		})
		if err != nil {
			return fmt.Errorf("write function: %w", err)
		}
	}
	return nil
}

// writeModules force-interns every module loaded by the target process
// before emitting, so modules no sample referenced still get a record
// for later, possibly deferred, symbolication.
func (c *Converter) writeModules(src trace.Source, w *tracetab.Writer, pid int) error {
	for _, m := range src.LoadedModules(pid) {
		c.modules.AddOrLookup(m)
	}
	for _, m := range c.modules.Keys() {
		if len(m.Path) > tracetab.MaxPathBytes || len(m.PdbName) > tracetab.MaxNameBytes {
			c.metrics.truncatedNames.Inc()
		}
		err := w.WriteModule(tracetab.Module{
			Mono:     m.Mono,
			Checksum: m.Checksum,
			PdbAge:   m.PdbAge,
			PdbGUID:  m.PdbGUID,
			Path:     m.Path,
			PdbName:  m.PdbName,
		})
		if err != nil {
			return fmt.Errorf("write module: %w", err)
		}
	}
	return nil
}

func (c *Converter) writeThreads(src trace.Source, w *tracetab.Writer) error {
	for _, id := range c.threads.Keys() {
		name := src.ThreadName(id)
		if len(name) > tracetab.MaxNameBytes {
			c.metrics.truncatedNames.Inc()
		}
		if err := w.WriteThread(tracetab.Thread{Name: name}); err != nil {
			return fmt.Errorf("write thread: %w", err)
		}
	}
	return nil
}
