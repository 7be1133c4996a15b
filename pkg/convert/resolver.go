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

package convert

import "github.com/tracetab-dev/tracetab/pkg/trace"

type functionKind uint8

const (
	functionInvalid functionKind = iota
	functionSymbolic
	functionJIT
)

// functionKey is the tagged function identity: a code address resolves
// to exactly one of a symbolized method, a JIT-compiled method, or
// nothing. Both resolved shapes intern into the same function table so
// consumers never see which path produced an entry. The zero key is the
// interning sentinel.
type functionKey struct {
	kind   functionKind
	module int32
	name   string
	base   uint64
	size   int64
}

// resolveFunction classifies addr and returns its function table index,
// or -1 when neither the capture's method table nor the JIT lookup
// knows the address. Unresolved addresses are a valid steady-state
// outcome, for instance inside modules excluded from symbolication.
func (c *Converter) resolveFunction(src trace.Source, addr uint64) int32 {
	key := c.classify(src, addr)
	if key.kind == functionInvalid {
		c.metrics.unresolvedAddresses.Inc()
		return -1
	}
	return c.functions.AddOrLookup(key)
}

// classify interns the owning module as a side effect. Module interning
// is a plain table insert and never re-enters function resolution.
func (c *Converter) classify(src trace.Source, addr uint64) functionKey {
	if m, ok := src.MethodAt(addr); ok {
		return functionKey{
			kind:   functionSymbolic,
			module: c.modules.AddOrLookup(m.Module),
			name:   m.Name,
			base:   m.RVA,
			size:   -1, // extent of a symbolized method is not tracked
		}
	}
	if c.jit != nil {
		if jm, ok := c.jit.JITMethodAt(addr); ok {
			name := jm.Name
			if name == "" {
				name = "???"
			}
			return functionKey{
				kind:   functionJIT,
				module: c.modules.AddOrLookup(jm.Module),
				name:   name,
				base:   jm.CodeStart,
				size:   jm.CodeSize,
			}
		}
	}
	return functionKey{}
}
