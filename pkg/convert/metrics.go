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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	samples             prometheus.Counter
	stackFrames         prometheus.Counter
	unresolvedAddresses prometheus.Counter
	truncatedNames      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		samples: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracetab_convert_samples_total",
			Help: "Number of samples written to the artifact.",
		}),
		stackFrames: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracetab_convert_stack_frames_total",
			Help: "Number of distinct stack frames written to the artifact.",
		}),
		unresolvedAddresses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracetab_convert_unresolved_addresses_total",
			Help: "Number of sampled addresses that resolved to no function.",
		}),
		truncatedNames: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracetab_convert_truncated_names_total",
			Help: "Number of names and paths truncated to their fixed record capacity.",
		}),
	}
}
