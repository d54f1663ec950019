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

package hostarch

import "testing"

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		in       Addr
		down, up Addr
	}{
		{in: 0, down: 0, up: 0},
		{in: 1, down: 0, up: PageSize},
		{in: PageSize, down: PageSize, up: PageSize},
		{in: PageSize + 17, down: PageSize, up: 2 * PageSize},
	} {
		if got := tc.in.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown() = %v, want %v", tc.in, got, tc.down)
		}
		if got := tc.in.MustRoundUp(); got != tc.up {
			t.Errorf("%v.RoundUp() = %v, want %v", tc.in, got, tc.up)
		}
	}
	if _, ok := Addr(^uintptr(0)).RoundUp(); ok {
		t.Errorf("RoundUp of the last address should wrap")
	}
}

func TestAccessTypeString(t *testing.T) {
	for at, want := range map[AccessType]string{
		NoAccess:  "---",
		ReadWrite: "rw-",
		ReadExec:  "r-x",
		AnyAccess: "rwx",
	} {
		if got := at.String(); got != want {
			t.Errorf("%+v.String() = %q, want %q", at, got, want)
		}
	}
	if !AnyAccess.SupersetOf(ReadWrite) || Read.SupersetOf(Write) {
		t.Errorf("SupersetOf is wrong")
	}
}
