// Copyright 2024 The Slate Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import "github.com/prometheus/client_golang/prometheus"

var (
	appendTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slate_log_append_total",
		Help: "Number of entries successfully appended to the log.",
	})
	appendSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "slate_log_append_seconds",
		Help: "Latency of Append calls.",
	})
	getSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "slate_log_get_seconds",
		Help: "Latency of Get calls.",
	})
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slate_log_cache_hits_total",
		Help: "Node lookups served from the resident cache.",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slate_log_cache_misses_total",
		Help: "Node lookups that fell through to storage.",
	})
	divergenceIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "slate_log_divergence_iterations",
		Help: "Iterations the convergence procedure needed per Converge call.",
		Buckets: prometheus.LinearBuckets(0, 1, 16),
	})
)

func init() {
	prometheus.MustRegister(
		appendTotal,
		appendSeconds,
		getSeconds,
		cacheHitsTotal,
		cacheMissesTotal,
		divergenceIterations,
	)
}
