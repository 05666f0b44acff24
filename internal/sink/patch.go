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

package sink

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// PatchStats 补丁增删行数
type PatchStats struct {
	LinesAdded   int `json:"lines_added" yaml:"lines_added"`
	LinesRemoved int `json:"lines_removed" yaml:"lines_removed"`
}

// UnifiedPatch 生成 a/ b/ 前缀的统一 diff，并经 go-diff 解析回读校验
func UnifiedPatch(identifier, original, refactored string) (string, PatchStats, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(refactored),
		FromFile: "a/" + identifier,
		ToFile:   "b/" + identifier,
		Context:  3,
	})
	if err != nil {
		return "", PatchStats{}, fmt.Errorf("diff %s: %w", identifier, err)
	}
	if text == "" {
		return "", PatchStats{}, nil
	}
	fd, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return "", PatchStats{}, fmt.Errorf("parse patch %s: %w", identifier, err)
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", PatchStats{}, fmt.Errorf("print patch %s: %w", identifier, err)
	}
	return string(out), patchStats(fd), nil
}

func patchStats(fd *diff.FileDiff) PatchStats {
	var st PatchStats
	for _, h := range fd.Hunks {
		for _, line := range strings.Split(string(h.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				st.LinesAdded++
			case strings.HasPrefix(line, "-"):
				st.LinesRemoved++
			}
		}
	}
	return st
}
