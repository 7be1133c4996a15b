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

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tracetab-dev/tracetab/pkg/capture"
	"github.com/tracetab-dev/tracetab/pkg/config"
	"github.com/tracetab-dev/tracetab/pkg/convert"
	"github.com/tracetab-dev/tracetab/pkg/logger"
	"github.com/tracetab-dev/tracetab/pkg/perfmap"
	"github.com/tracetab-dev/tracetab/pkg/trace"
	"github.com/tracetab-dev/tracetab/pkg/tracetab"
)

type flags struct {
	LogLevel  string `enum:"error,warn,info,debug" default:"info" help:"Log level."`
	LogFormat string `enum:"logfmt,json" default:"logfmt" help:"Log format."`

	Convert convertCmd `cmd:"" help:"Convert a capture into a trace table artifact."`
	Dump    dumpCmd    `cmd:"" help:"Print the tables of an artifact."`
	Verify  verifyCmd  `cmd:"" help:"Validate an artifact's header and table bounds."`
}

type convertCmd struct {
	Capture       string `arg:"" help:"Path to the JSON-lines capture."`
	Process       string `required:"" help:"Name of the target process."`
	Output        string `short:"o" help:"Artifact path. Defaults to the capture path with a .tracetab extension."`
	Config        string `help:"YAML file with the symbolication policy."`
	PerfMap       string `help:"Perf map file used to resolve JIT-compiled code addresses."`
	ConversionLog string `help:"Path for the human-readable conversion log."`
}

func (c *convertCmd) Run(l log.Logger) error {
	policy := config.Policy{}
	if c.Config != "" {
		cfg, err := config.LoadFile(c.Config)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		policy = cfg.Symbolication
	}

	output := c.Output
	if output == "" {
		output = strings.TrimSuffix(c.Capture, ".jsonl") + ".tracetab"
	}

	src, err := capture.Open(l, c.Capture, policy, c.ConversionLog)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer src.Close()

	var jit trace.JITResolver
	if c.PerfMap != "" {
		m, err := perfmap.ReadMap(l, c.PerfMap)
		if err != nil {
			return fmt.Errorf("read perf map: %w", err)
		}
		jit = m
	}

	w, err := tracetab.NewWriter(output)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if err := convert.New(l, prometheus.NewRegistry(), jit).Convert(src, w, c.Process); err != nil {
		w.Close()
		os.Remove(output)
		return fmt.Errorf("convert: %w", err)
	}

	if st, err := os.Stat(output); err == nil {
		level.Info(l).Log("msg", "artifact written", "path", output, "size", humanize.Bytes(uint64(st.Size())))
	}
	return nil
}

type dumpCmd struct {
	Artifact string `arg:"" help:"Path to the artifact."`
	Summary  bool   `help:"Print only the header summary."`
}

func (c *dumpCmd) Run(log.Logger) error {
	r, err := tracetab.NewReader(c.Artifact)
	if err != nil {
		return err
	}
	defer r.Close()

	b, err := os.ReadFile(c.Artifact)
	if err != nil {
		return err
	}

	hdr := r.Header()
	fmt.Printf("artifact:    %s\n", c.Artifact)
	fmt.Printf("version:     %d\n", hdr.Version)
	fmt.Printf("length:      %s (%d bytes)\n", humanize.Bytes(uint64(hdr.TotalLength)), hdr.TotalLength)
	fmt.Printf("fingerprint: %016x\n", xxhash.Sum64(b))
	fmt.Printf("samples:     %d\n", hdr.Samples.Count)
	fmt.Printf("stackframes: %d\n", hdr.StackFrames.Count)
	fmt.Printf("functions:   %d\n", hdr.Functions.Count)
	fmt.Printf("modules:     %d\n", hdr.Modules.Count)
	fmt.Printf("threads:     %d\n", hdr.Threads.Count)
	if c.Summary {
		return nil
	}

	samples, err := r.Samples()
	if err != nil {
		return err
	}
	fmt.Println("\nsamples:")
	for i, s := range samples {
		fmt.Printf("  [%d] address=0x%x thread=%d ts=%.3fms stack=%d function=%d\n",
			i, s.Address, s.Thread, s.Timestamp, s.Stack, s.Function)
	}

	frames, err := r.StackFrames()
	if err != nil {
		return err
	}
	fmt.Println("\nstack frames:")
	for i, f := range frames {
		fmt.Printf("  [%d] address=0x%x depth=%d caller=%d function=%d\n",
			i, f.Address, f.Depth, f.Caller, f.Function)
	}

	functions, err := r.Functions()
	if err != nil {
		return err
	}
	fmt.Println("\nfunctions:")
	for i, f := range functions {
		fmt.Printf("  [%d] base=0x%x length=%d module=%d name=%q\n",
			i, f.BaseAddress, f.Length, f.Module, f.Name)
	}

	modules, err := r.Modules()
	if err != nil {
		return err
	}
	fmt.Println("\nmodules:")
	for i, m := range modules {
		if m.Mono {
			fmt.Printf("  [%d] mono path=%q\n", i, m.Path)
			continue
		}
		fmt.Printf("  [%d] path=%q checksum=%d pdb=%q age=%d guid=%x\n",
			i, m.Path, m.Checksum, m.PdbName, m.PdbAge, m.PdbGUID)
	}

	threads, err := r.Threads()
	if err != nil {
		return err
	}
	fmt.Println("\nthreads:")
	for i, t := range threads {
		fmt.Printf("  [%d] name=%q\n", i, t.Name)
	}
	return nil
}

type verifyCmd struct {
	Artifact string `arg:"" help:"Path to the artifact."`
}

func (c *verifyCmd) Run(log.Logger) error {
	r, err := tracetab.NewReader(c.Artifact)
	if err != nil {
		return err
	}
	defer r.Close()

	hdr := r.Header()
	fmt.Printf("%s: ok (version %d, %d bytes, %d samples)\n",
		c.Artifact, hdr.Version, hdr.TotalLength, hdr.Samples.Count)
	return nil
}

func main() {
	flags := flags{}
	ctx := kong.Parse(&flags,
		kong.Name("tracetab"),
		kong.Description("Convert raw sampled execution captures into trace table artifacts."),
	)

	l := logger.NewLogger(flags.LogLevel, flags.LogFormat, "tracetab")
	ctx.BindTo(l, (*log.Logger)(nil))
	if err := ctx.Run(); err != nil {
		logrus.Fatalf("%s failed: %v", ctx.Command(), err)
	}
}
