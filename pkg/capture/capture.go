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

// Package capture reads raw captures stored as JSON lines, one record
// per line, and exposes them as a trace.Source.
//
// Record grammar (unknown record types are an error):
//
//	{"type":"process","name":"server","pid":7}
//	{"type":"module","pid":7,"path":"/usr/lib/acme/server","base":4096,"size":65536,
//	 "checksum":119,"pdbAge":2,"pdbGuid":"aabb0000000000000000000000000000",
//	 "pdbName":"server.pdb","mono":false}
//	{"type":"thread","tid":10,"name":"main"}
//	{"type":"stack","id":2,"address":512,"caller":1}
//	{"type":"method","module":"/usr/lib/acme/server","name":"Acme.Server.Run","rva":256}
//	{"type":"sample","pid":7,"ts":0.5,"address":512,"stack":2,"tid":10}
//
// Stack and thread handles are positive; zero or absent means none. A
// stack record without a caller is a chain root. Method records form
// the capture's own method table; modules admitted by the symbolication
// policy are additionally resolved through symbol listings (see
// pkg/symfile), found next to the module or under the configured
// search path.
//
// Opening a capture also opens the session's human-readable conversion
// log; Close flushes and closes it.
package capture

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tracetab-dev/tracetab/pkg/config"
	"github.com/tracetab-dev/tracetab/pkg/symfile"
	"github.com/tracetab-dev/tracetab/pkg/trace"
)

// maxLineSize bounds one capture line; symbol-heavy method records can
// get long but a line this size is a corrupt capture.
const maxLineSize = 1 << 20

type record struct {
	Type     string  `json:"type"`
	Name     string  `json:"name,omitempty"`
	PID      int     `json:"pid,omitempty"`
	Path     string  `json:"path,omitempty"`
	Base     uint64  `json:"base,omitempty"`
	Size     uint64  `json:"size,omitempty"`
	Checksum int32   `json:"checksum,omitempty"`
	PdbAge   int32   `json:"pdbAge,omitempty"`
	PdbGUID  string  `json:"pdbGuid,omitempty"`
	PdbName  string  `json:"pdbName,omitempty"`
	Mono     bool    `json:"mono,omitempty"`
	TID      int64   `json:"tid,omitempty"`
	ID       int64   `json:"id,omitempty"`
	Address  uint64  `json:"address,omitempty"`
	Caller   int64   `json:"caller,omitempty"`
	Module   string  `json:"module,omitempty"`
	RVA      uint64  `json:"rva,omitempty"`
	TS       float64 `json:"ts,omitempty"`
	Stack    int64   `json:"stack,omitempty"`
}

type stackNode struct {
	address uint64
	caller  trace.StackID
}

type methodSym struct {
	rva  uint64
	name string
}

type moduleEntry struct {
	mod     trace.Module
	pid     int
	base    uint64
	end     uint64
	methods []methodSym // sorted by rva
}

// Source is a fully parsed capture. It satisfies trace.Source. Not safe
// for concurrent use.
type Source struct {
	convlog log.Logger
	logFile *os.File

	procs   map[string]int
	threads map[trace.ThreadID]string
	stacks  map[trace.StackID]stackNode
	depths  map[trace.StackID]int32
	modules []moduleEntry // capture order
	byBase  []int         // module indices sorted by base address
	samples []trace.Sample
	symbols *symfile.Resolver
}

// Open parses the capture at path. Any malformed record makes the whole
// capture unusable and fails the open. logPath, if non-empty, receives
// the conversion log for this session.
func Open(logger log.Logger, path string, policy config.Policy, logPath string) (*Source, error) {
	s := &Source{
		convlog: log.NewNopLogger(),
		procs:   make(map[string]int),
		threads: make(map[trace.ThreadID]string),
		stacks:  make(map[trace.StackID]stackNode),
		depths:  make(map[trace.StackID]int32),
	}

	if logPath != "" {
		f, err := os.Create(logPath)
		if err != nil {
			return nil, fmt.Errorf("create conversion log: %w", err)
		}
		s.logFile = f
		s.convlog = log.With(log.NewLogfmtLogger(f), "ts", log.DefaultTimestampUTC)
	}
	s.symbols = symfile.NewResolver(s.convlog, policy)

	if err := s.parse(path, policy); err != nil {
		s.Close()
		return nil, err
	}

	level.Info(s.convlog).Log(
		"msg", "capture opened",
		"capture", path,
		"processes", len(s.procs),
		"modules", len(s.modules),
		"threads", len(s.threads),
		"stacks", len(s.stacks),
		"samples", len(s.samples),
	)
	level.Debug(logger).Log("msg", "capture parsed", "capture", path, "samples", len(s.samples))
	return s, nil
}

func (s *Source) parse(path string, policy config.Policy) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	methods := make(map[string][]methodSym)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for i := 0; scanner.Scan(); i++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("capture line %d: %w", i, err)
		}
		if err := s.addRecord(rec, methods); err != nil {
			return fmt.Errorf("capture line %d: %w", i, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read capture: %w", err)
	}

	for j := range s.modules {
		m := &s.modules[j]
		ms := methods[m.mod.Path]
		sort.Slice(ms, func(a, b int) bool { return ms[a].rva < ms[b].rva })
		m.methods = ms
		delete(methods, m.mod.Path)
	}
	for modulePath := range methods {
		level.Warn(s.convlog).Log("msg", "method record references unknown module", "module", modulePath)
	}

	s.byBase = make([]int, len(s.modules))
	for j := range s.modules {
		s.byBase[j] = j
	}
	sort.Slice(s.byBase, func(a, b int) bool {
		return s.modules[s.byBase[a]].base < s.modules[s.byBase[b]].base
	})

	for j := range s.modules {
		if err := s.symbols.Load(s.modules[j].mod.Path); err != nil {
			if errors.Is(err, symfile.ErrNoSymbols) {
				level.Warn(s.convlog).Log("msg", "no symbol listing for module", "module", s.modules[j].mod.Path)
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Source) addRecord(rec record, methods map[string][]methodSym) error {
	switch rec.Type {
	case "process":
		if rec.Name == "" {
			return errors.New("process record without name")
		}
		s.procs[rec.Name] = rec.PID
	case "module":
		if rec.Path == "" {
			return errors.New("module record without path")
		}
		mod := trace.Module{
			Mono:     rec.Mono,
			Path:     rec.Path,
			Checksum: rec.Checksum,
			PdbAge:   rec.PdbAge,
			PdbName:  rec.PdbName,
		}
		if rec.PdbGUID != "" {
			guid, err := hex.DecodeString(rec.PdbGUID)
			if err != nil || len(guid) != len(mod.PdbGUID) {
				return fmt.Errorf("module %s: malformed pdb guid %q", rec.Path, rec.PdbGUID)
			}
			copy(mod.PdbGUID[:], guid)
		}
		s.modules = append(s.modules, moduleEntry{
			mod:  mod,
			pid:  rec.PID,
			base: rec.Base,
			end:  rec.Base + rec.Size,
		})
	case "thread":
		if rec.TID <= 0 {
			return errors.New("thread record without tid")
		}
		s.threads[trace.ThreadID(rec.TID)] = rec.Name
	case "stack":
		if rec.ID <= 0 {
			return errors.New("stack record without id")
		}
		caller := trace.NoStack
		if rec.Caller > 0 {
			caller = trace.StackID(rec.Caller)
		}
		s.stacks[trace.StackID(rec.ID)] = stackNode{address: rec.Address, caller: caller}
	case "method":
		if rec.Module == "" || rec.Name == "" {
			return errors.New("method record without module or name")
		}
		methods[rec.Module] = append(methods[rec.Module], methodSym{rva: rec.RVA, name: rec.Name})
	case "sample":
		stack := trace.NoStack
		if rec.Stack > 0 {
			stack = trace.StackID(rec.Stack)
		}
		thread := trace.NoThread
		if rec.TID > 0 {
			thread = trace.ThreadID(rec.TID)
		}
		s.samples = append(s.samples, trace.Sample{
			PID:       rec.PID,
			Timestamp: rec.TS,
			Address:   rec.Address,
			Stack:     stack,
			Thread:    thread,
		})
	default:
		return fmt.Errorf("unknown record type %q", rec.Type)
	}
	return nil
}

// FindProcess implements trace.Source.
func (s *Source) FindProcess(name string) (int, bool) {
	pid, ok := s.procs[name]
	return pid, ok
}

// Samples implements trace.Source, replaying samples in capture order.
func (s *Source) Samples(fn func(trace.Sample) error) error {
	for _, sm := range s.samples {
		if err := fn(sm); err != nil {
			return err
		}
	}
	return nil
}

// Stack implements trace.Source.
func (s *Source) Stack(id trace.StackID) (trace.Frame, bool) {
	node, ok := s.stacks[id]
	if !ok {
		return trace.Frame{}, false
	}
	return trace.Frame{
		Address: node.address,
		Depth:   s.depthOf(id),
		Caller:  node.caller,
	}, true
}

// depthOf walks the caller chain, memoizing depths for every node it
// visits. A dangling or cyclic caller chain is cut off and treated as
// rooted where it breaks.
func (s *Source) depthOf(id trace.StackID) int32 {
	var chain []trace.StackID
	below := int32(-1)
	cur := id
	for {
		if d, ok := s.depths[cur]; ok {
			below = d
			break
		}
		node, ok := s.stacks[cur]
		if !ok {
			break
		}
		chain = append(chain, cur)
		cur = node.caller
		if cur == trace.NoStack || len(chain) > len(s.stacks) {
			break
		}
	}
	d := below
	for i := len(chain) - 1; i >= 0; i-- {
		d++
		s.depths[chain[i]] = d
	}
	if len(chain) == 0 {
		return below
	}
	return d
}

// ThreadName implements trace.Source.
func (s *Source) ThreadName(id trace.ThreadID) string {
	return s.threads[id]
}

// MethodAt implements trace.Source: the containing module's inline
// method table first, then the module's symbol listing if the policy
// admitted it.
func (s *Source) MethodAt(addr uint64) (trace.Method, bool) {
	m := s.moduleAt(addr)
	if m == nil {
		return trace.Method{}, false
	}
	rva := addr - m.base

	if len(m.methods) > 0 {
		i := sort.Search(len(m.methods), func(i int) bool {
			return m.methods[i].rva > rva
		})
		if i > 0 {
			sym := m.methods[i-1]
			return trace.Method{Module: m.mod, Name: sym.name, RVA: sym.rva}, true
		}
	}

	if name, start, ok := s.symbols.Lookup(m.mod.Path, rva); ok {
		return trace.Method{Module: m.mod, Name: name, RVA: start}, true
	}
	return trace.Method{}, false
}

func (s *Source) moduleAt(addr uint64) *moduleEntry {
	i := sort.Search(len(s.byBase), func(i int) bool {
		return s.modules[s.byBase[i]].base > addr
	})
	for i > 0 {
		i--
		m := &s.modules[s.byBase[i]]
		if addr >= m.base && addr < m.end {
			return m
		}
	}
	return nil
}

// LoadedModules implements trace.Source, preserving capture order.
func (s *Source) LoadedModules(pid int) []trace.Module {
	var out []trace.Module
	for i := range s.modules {
		if s.modules[i].pid == pid {
			out = append(out, s.modules[i].mod)
		}
	}
	return out
}

// Close flushes and closes the conversion log.
func (s *Source) Close() error {
	if s.logFile == nil {
		return nil
	}
	level.Info(s.convlog).Log("msg", "conversion session closed")
	f := s.logFile
	s.logFile = nil
	return f.Close()
}
