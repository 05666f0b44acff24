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

package inference

import (
	"regexp"
	"strings"

	"refactor-pipeline/internal/decision"
)

// 生成端用于区分两类产物的标记；只在本包内解析
const (
	CodeMarker       = "=== REFACTORED CODE ==="
	SuggestionMarker = "=== REFACTORING SUGGESTIONS ==="
)

// Artifact 生成端的带标签结果
type Artifact struct {
	Kind decision.ArtifactKind
	Body string
}

var codeFence = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")

// ParseArtifact 恰好出现一种标记且只出现一次时返回对应产物，否则为 Malformed
func ParseArtifact(raw string) Artifact {
	codes := strings.Count(raw, CodeMarker)
	suggestions := strings.Count(raw, SuggestionMarker)
	switch {
	case codes == 1 && suggestions == 0:
		body := cleanCode(after(raw, CodeMarker))
		if body == "" {
			return Artifact{Kind: decision.ArtifactMalformed}
		}
		return Artifact{Kind: decision.ArtifactCode, Body: body}
	case suggestions == 1 && codes == 0:
		body := strings.TrimSpace(after(raw, SuggestionMarker))
		if body == "" {
			return Artifact{Kind: decision.ArtifactMalformed}
		}
		return Artifact{Kind: decision.ArtifactSuggestion, Body: body}
	default:
		return Artifact{Kind: decision.ArtifactMalformed}
	}
}

func after(s, marker string) string {
	return s[strings.Index(s, marker)+len(marker):]
}

// cleanCode 去掉 markdown 代码围栏
func cleanCode(code string) string {
	return strings.TrimSpace(codeFence.ReplaceAllString(code, ""))
}
