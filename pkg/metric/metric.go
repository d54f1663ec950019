// Copyright 2026 The gVisor Authors.
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

// Package metric provides primitives for collecting metrics and exporting
// them in the Prometheus text format.
package metric

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"gvisor.dev/picokern/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name is not valid.
	ErrInvalidName = errors.New("metric name must start with a / and contain only lowercase letters, digits, underscores and slashes")
)

// namespace prefixes every exported metric name.
const namespace = "picokern"

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored.
type Uint64Metric struct {
	value atomic.Uint64
}

// Value returns the current value of the metric.
func (m *Uint64Metric) Value() uint64 {
	return m.value.Load()
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment() {
	m.value.Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64) {
	m.value.Add(v)
}

// metricEntry is one registered metric.
type metricEntry struct {
	name        string
	description string
	cumulative  bool
	value       func() uint64
}

// allMetrics are the registered metrics, keyed by name.
var allMetrics = struct {
	mu sync.Mutex
	m  map[string]metricEntry
}{m: make(map[string]metricEntry)}

func validName(name string) bool {
	if !strings.HasPrefix(name, "/") || len(name) < 2 {
		return false
	}
	for _, r := range name[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '/') {
			return false
		}
	}
	return true
}

func register(e metricEntry) error {
	if !validName(e.name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, e.name)
	}
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if _, ok := allMetrics.m[e.name]; ok {
		return fmt.Errorf("%w: %q", ErrNameInUse, e.name)
	}
	allMetrics.m[e.name] = e
	return nil
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func NewUint64Metric(name string, description string) (*Uint64Metric, error) {
	m := &Uint64Metric{}
	if err := register(metricEntry{name: name, description: description, cumulative: true, value: m.Value}); err != nil {
		return nil, err
	}
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name string, description string) *Uint64Metric {
	m, err := NewUint64Metric(name, description)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// RegisterCustomUint64Metric registers a gauge whose value is produced by
// calling value at export time.
func RegisterCustomUint64Metric(name string, description string, value func() uint64) error {
	return register(metricEntry{name: name, description: description, value: value})
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func MustRegisterCustomUint64Metric(name string, description string, value func() uint64) {
	if err := RegisterCustomUint64Metric(name, description, value); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// Values returns a snapshot of every registered metric, keyed by name.
func Values() map[string]uint64 {
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	vals := make(map[string]uint64, len(allMetrics.m))
	for name, e := range allMetrics.m {
		vals[name] = e.value()
	}
	return vals
}

// promName converts "/kernel/tasks_created" to "picokern_kernel_tasks_created".
func promName(name string) string {
	return namespace + strings.ReplaceAll(name, "/", "_")
}

// families returns the registered metrics as Prometheus metric families,
// sorted by name.
func families() []*dto.MetricFamily {
	allMetrics.mu.Lock()
	entries := make([]metricEntry, 0, len(allMetrics.m))
	for _, e := range allMetrics.m {
		entries = append(entries, e)
	}
	allMetrics.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	out := make([]*dto.MetricFamily, 0, len(entries))
	for _, e := range entries {
		v := float64(e.value())
		mf := &dto.MetricFamily{
			Name: proto.String(promName(e.name)),
			Help: proto.String(e.description),
		}
		if e.cumulative {
			mf.Type = dto.MetricType_COUNTER.Enum()
			mf.Metric = []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}}
		} else {
			mf.Type = dto.MetricType_GAUGE.Enum()
			mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}}
		}
		out = append(out, mf)
	}
	return out
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	for _, mf := range families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
