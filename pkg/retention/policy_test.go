// Copyright 2026 fanjia1024
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

package retention

import (
	"testing"
	"time"
)

type entry struct {
	id string
	at time.Time
}

func ids(es []entry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.id)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	at := func(e entry) time.Time { return e.at }
	items := []entry{
		{"r1", now.Add(-72 * time.Hour)},
		{"r2", now.Add(-48 * time.Hour)},
		{"r3", now.Add(-24 * time.Hour)},
		{"r4", now.Add(-time.Hour)},
	}

	tests := []struct {
		name   string
		policy Policy
		want   []string
	}{
		{"disabled", Policy{}, []string{"r1", "r2", "r3", "r4"}},
		{"keep last two", Policy{KeepLast: 2}, []string{"r3", "r4"}},
		{"max age", Policy{MaxAge: 36 * time.Hour}, []string{"r3", "r4"}},
		{"both", Policy{KeepLast: 3, MaxAge: 60 * time.Hour}, []string{"r2", "r3", "r4"}},
		{"newest always kept", Policy{MaxAge: time.Minute}, []string{"r4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Prune(items, tt.policy, now, at))
			if !equal(got, tt.want) {
				t.Errorf("Prune() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrune_PreservesOrderWithUnsortedInput(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	items := []entry{
		{"b", now.Add(-time.Hour)},
		{"a", now.Add(-3 * time.Hour)},
		{"c", now},
	}
	got := ids(Prune(items, Policy{KeepLast: 2}, now, func(e entry) time.Time { return e.at }))
	if !equal(got, []string{"b", "c"}) {
		t.Fatalf("got %v", got)
	}
}
