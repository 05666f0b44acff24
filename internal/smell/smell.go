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

// Package smell 定义坏味检测结果，在推理、判定与交付之间共享
package smell

import (
	"fmt"
	"sort"
	"strings"
)

// Smell 单个坏味
type Smell struct {
	Type            string   `json:"type"`
	Severity        string   `json:"severity"`
	Location        string   `json:"location"`
	Description     string   `json:"description"`
	AffectedMethods []string `json:"affected_methods,omitempty"`
}

// Scope 推理端自报的修改范围
type Scope string

const (
	ScopeUnknown    Scope = ""
	ScopeSingleFile Scope = "single_file"
	ScopeMultiFile  Scope = "multi_file"
)

// Detection 坏味检测响应
type Detection struct {
	HasSmells    bool     `json:"has_smells"`
	Smells       []Smell  `json:"smells"`
	RelatedFiles []string `json:"related_files,omitempty"`
	Scope        Scope    `json:"scope,omitempty"`
}

// Empty 无坏味
func (d Detection) Empty() bool {
	return !d.HasSmells || len(d.Smells) == 0
}

// Types 去重后的坏味类型，按字母序
func (d Detection) Types() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range d.Smells {
		if _, ok := seen[s.Type]; ok {
			continue
		}
		seen[s.Type] = struct{}{}
		out = append(out, s.Type)
	}
	sort.Strings(out)
	return out
}

// AffectedMethods 所有坏味涉及的方法
func (d Detection) AffectedMethods() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range d.Smells {
		for _, m := range s.AffectedMethods {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// Summary 面向 PR 正文与报告的摘要
func (d Detection) Summary() string {
	if d.Empty() {
		return "no smells detected"
	}
	var b strings.Builder
	for _, s := range d.Smells {
		fmt.Fprintf(&b, "- %s (%s)", s.Type, strings.ToUpper(s.Severity))
		if s.Location != "" {
			fmt.Fprintf(&b, " at %s", s.Location)
		}
		if s.Description != "" {
			fmt.Fprintf(&b, ": %s", s.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
