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

package smell

import "testing"

func TestDetectionHelpers(t *testing.T) {
	d := Detection{
		HasSmells: true,
		Smells: []Smell{
			{Type: "Long Method", Severity: "high", Location: "lines 10-80", Description: "process() does too much", AffectedMethods: []string{"process"}},
			{Type: "God Class", Severity: "medium", AffectedMethods: []string{"process", "save"}},
			{Type: "Long Method", Severity: "low"},
		},
	}
	if d.Empty() {
		t.Fatal("detection with smells should not be empty")
	}
	if got := d.Types(); len(got) != 2 || got[0] != "God Class" || got[1] != "Long Method" {
		t.Errorf("Types = %v", got)
	}
	if got := d.AffectedMethods(); len(got) != 2 {
		t.Errorf("AffectedMethods = %v", got)
	}
	want := "- Long Method (HIGH) at lines 10-80: process() does too much\n- God Class (MEDIUM)\n- Long Method (LOW)"
	if got := d.Summary(); got != want {
		t.Errorf("Summary =\n%s\nwant\n%s", got, want)
	}
	if !(Detection{HasSmells: true}).Empty() {
		t.Error("has_smells without entries counts as empty")
	}
}
