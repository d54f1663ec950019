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

package metric

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/common/expfmt"
)

func TestRegister(t *testing.T) {
	if _, err := NewUint64Metric("/test/register", "a counter"); err != nil {
		t.Fatalf("NewUint64Metric failed: %v", err)
	}
	if _, err := NewUint64Metric("/test/register", "again"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate NewUint64Metric err = %v, want ErrNameInUse", err)
	}
	for _, name := range []string{"", "/", "no_slash", "/Upper", "/dash-ed"} {
		if _, err := NewUint64Metric(name, "bad"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("NewUint64Metric(%q) err = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestIncrementAndValues(t *testing.T) {
	m := MustCreateNewUint64Metric("/test/increment", "a counter")
	m.Increment()
	m.IncrementBy(41)
	if got := m.Value(); got != 42 {
		t.Errorf("Value() = %d, want 42", got)
	}
	if got := Values()["/test/increment"]; got != 42 {
		t.Errorf("Values()[/test/increment] = %d, want 42", got)
	}
}

func TestWritePrometheus(t *testing.T) {
	c := MustCreateNewUint64Metric("/test/export/counter", "exported counter")
	c.IncrementBy(7)
	MustRegisterCustomUint64Metric("/test/export/gauge", "exported gauge", func() uint64 { return 3 })

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus failed: %v", err)
	}
	var parser expfmt.TextParser
	fams, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	counter, ok := fams["picokern_test_export_counter"]
	if !ok {
		t.Fatalf("counter missing from output: %v", fams)
	}
	if got := counter.GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Errorf("counter value = %v, want 7", got)
	}
	gauge, ok := fams["picokern_test_export_gauge"]
	if !ok {
		t.Fatalf("gauge missing from output")
	}
	if got := gauge.GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("gauge value = %v, want 3", got)
	}
}
