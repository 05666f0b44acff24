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

package utils

import (
	"testing"
	"time"
)

func TestCoalesceString(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty slice", []string{}, ""},
		{"all empty", []string{"", "", ""}, ""},
		{"first non-empty", []string{"java", "", "kotlin"}, "java"},
		{"second non-empty", []string{"", "java"}, "java"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CoalesceString(tt.in...); got != tt.want {
				t.Errorf("CoalesceString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPositiveOr(t *testing.T) {
	if got := PositiveOr(0, 8192); got != 8192 {
		t.Errorf("PositiveOr(0) = %d", got)
	}
	if got := PositiveOr(-1, 8192); got != 8192 {
		t.Errorf("PositiveOr(-1) = %d", got)
	}
	if got := PositiveOr(4096, 8192); got != 4096 {
		t.Errorf("PositiveOr(4096) = %d", got)
	}
	if got := PositiveOr(float32(0), 0.2); got != 0.2 {
		t.Errorf("PositiveOr(float32) = %v", got)
	}
	if got := PositiveOr(time.Duration(0), time.Second); got != time.Second {
		t.Errorf("PositiveOr(duration) = %v", got)
	}
}
