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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	for _, i := range []uint32{0, 3, 64, 129} {
		b.Add(i)
	}
	b.Add(3)
	if got := b.GetNumOnes(); got != 4 {
		t.Errorf("GetNumOnes() = %d, want 4", got)
	}
	if diff := cmp.Diff([]uint32{0, 3, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	b.Remove(3)
	b.Remove(3)
	if b.IsSet(3) || b.GetNumOnes() != 3 {
		t.Errorf("Remove(3) did not clear exactly one bit: %v", b.ToSlice())
	}
}

func TestFirstZeroRun(t *testing.T) {
	b := New(200)
	b.AddRange(0, 10)
	b.AddRange(12, 70)
	for _, tc := range []struct {
		n       uint32
		want    uint32
		wantErr bool
	}{
		{n: 1, want: 10},
		{n: 2, want: 10},
		{n: 3, want: 70},
		{n: 130, want: 70},
		{n: 131, wantErr: true},
	} {
		got, err := b.FirstZeroRun(tc.n)
		if (err != nil) != tc.wantErr {
			t.Errorf("FirstZeroRun(%d) err = %v, wantErr %v", tc.n, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("FirstZeroRun(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestRangeQueries(t *testing.T) {
	b := New(64)
	b.AddRange(8, 16)
	if !b.AllSet(8, 16) || b.AllSet(7, 16) {
		t.Errorf("AllSet wrong")
	}
	if !b.AnySet(0, 9) || b.AnySet(16, 64) {
		t.Errorf("AnySet wrong")
	}
	b.RemoveRange(8, 16)
	if !b.IsEmpty() {
		t.Errorf("bitmap not empty after RemoveRange: %v", b.ToSlice())
	}
}
