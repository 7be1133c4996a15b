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

package logger

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatLogfmt = "logfmt"
	LogFormatJSON   = "json"
)

// NewLogger returns a go-kit logger writing to stderr, filtered to
// logLevel. Unknown levels and formats fall back to info and logfmt.
func NewLogger(logLevel, logFormat, debugName string) log.Logger {
	var l log.Logger
	if logFormat == LogFormatJSON {
		l = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	} else {
		l = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}
	l = level.NewFilter(l, levelOption(logLevel))
	if debugName != "" {
		l = log.With(l, "name", debugName)
	}
	return log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func levelOption(logLevel string) level.Option {
	switch logLevel {
	case LogLevelDebug:
		return level.AllowDebug()
	case LogLevelWarn:
		return level.AllowWarn()
	case LogLevelError:
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
