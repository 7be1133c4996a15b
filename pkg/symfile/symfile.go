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

// Package symfile resolves module-relative addresses to names through
// symbol listing files: text files of "RVA NAME" lines, one per symbol,
// named after the module with a ".sym" extension.
package symfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tracetab-dev/tracetab/pkg/config"
)

var ErrNoSymbols = errors.New("no symbol listing found")

type sym struct {
	rva  uint64
	name string
}

type table struct {
	syms   []sym // sorted by rva
	digest uint64
}

// Resolver loads and queries symbol listings for modules admitted by
// the inclusion policy. Not safe for concurrent use.
type Resolver struct {
	logger log.Logger
	policy config.Policy
	tables map[string]*table
}

func NewResolver(logger log.Logger, policy config.Policy) *Resolver {
	return &Resolver{
		logger: logger,
		policy: policy,
		tables: make(map[string]*table),
	}
}

// Load reads the symbol listing for modulePath if the policy admits it.
// Candidates are "<modulePath>.sym" and, if a symbol search path is
// configured, "<search path>/<module base name>.sym". A module the
// policy excludes is skipped silently; an admitted module without a
// listing is reported as ErrNoSymbols.
func (r *Resolver) Load(modulePath string) error {
	if !r.policy.Matches(modulePath) {
		return nil
	}
	if _, ok := r.tables[modulePath]; ok {
		return nil
	}

	candidates := []string{modulePath + ".sym"}
	if r.policy.SymbolSearchPath != "" {
		candidates = append(candidates, filepath.Join(r.policy.SymbolSearchPath, filepath.Base(modulePath)+".sym"))
	}

	for _, candidate := range candidates {
		t, err := readListing(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read symbol listing %s: %w", candidate, err)
		}
		r.tables[modulePath] = t
		level.Info(r.logger).Log(
			"msg", "loaded symbol listing",
			"module", modulePath,
			"listing", candidate,
			"symbols", len(t.syms),
			"digest", fmt.Sprintf("%016x", t.digest),
		)
		return nil
	}
	return fmt.Errorf("module %s: %w", modulePath, ErrNoSymbols)
}

func readListing(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		syms     []sym
		digest   = xxhash.New()
		scanner  = bufio.NewScanner(f)
		lineErrs error
	)
	for i := 0; scanner.Scan(); i++ {
		line := scanner.Text()
		digest.WriteString(line)
		if line == "" {
			continue
		}
		rvaStr, name, ok := strings.Cut(line, " ")
		if !ok || name == "" {
			lineErrs = errors.Join(lineErrs, fmt.Errorf("line %d: invalid line", i))
			continue
		}
		rva, err := strconv.ParseUint(strings.TrimPrefix(rvaStr, "0x"), 16, 64)
		if err != nil {
			lineErrs = errors.Join(lineErrs, fmt.Errorf("line %d: %w", i, err))
			continue
		}
		syms = append(syms, sym{rva: rva, name: name})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if lineErrs != nil {
		return nil, lineErrs
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].rva < syms[j].rva })
	return &table{syms: syms, digest: digest.Sum64()}, nil
}

// Lookup resolves a module-relative address to the nearest symbol at or
// below it, returning the symbol's name and start.
func (r *Resolver) Lookup(modulePath string, rva uint64) (string, uint64, bool) {
	t, ok := r.tables[modulePath]
	if !ok || len(t.syms) == 0 {
		return "", 0, false
	}
	i := sort.Search(len(t.syms), func(i int) bool {
		return t.syms[i].rva > rva
	})
	if i == 0 {
		return "", 0, false
	}
	s := t.syms[i-1]
	return s.name, s.rva, true
}
