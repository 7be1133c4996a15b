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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load([]byte(`
symbolication:
  include_suffixes:
    - .so
    - server
  symbol_search_path: /var/lib/tracetab/symbols
`))
	require.NoError(t, err)
	require.Equal(t, []string{".so", "server"}, cfg.Symbolication.IncludeSuffixes)
	require.Equal(t, "/var/lib/tracetab/symbols", cfg.Symbolication.SymbolSearchPath)
}

func TestLoadEmpty(t *testing.T) {
	_, err := Load(nil)
	require.ErrorIs(t, err, ErrEmptyConfig)
}

func TestLoadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("symbolication:\n  include_suffixes: ['.dll']\n"), 0o644))

	cfg, err := LoadFile(file)
	require.NoError(t, err)
	require.True(t, cfg.Symbolication.Matches("/app/Acme.Server.dll"))
	require.False(t, cfg.Symbolication.Matches("/app/Acme.Server.so"))
}

func TestPolicyMatches(t *testing.T) {
	p := Policy{IncludeSuffixes: []string{".so", "server"}}
	require.True(t, p.Matches("/usr/lib/libacme.so"))
	require.True(t, p.Matches("/usr/bin/acme-server"))
	require.False(t, p.Matches("/usr/bin/acme"))
	require.False(t, Policy{}.Matches("/usr/lib/libacme.so"))
}
