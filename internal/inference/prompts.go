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
	"fmt"
	"sort"
	"strings"
)

// 相关文件作为上下文时每个文件截取的上限
const relatedFileLimit = 10000

const smellCatalog = `1. God Class: multiple unrelated responsibilities, more than 5 distinct method groups, more than 10 instance fields.
2. Feature Envy: a method that uses another class's data more than its own.
3. Data Clumps: the same group of 3+ parameters or fields appearing together in several places.
4. Shotgun Surgery: one logical change requires edits across many methods or classes.
5. Long Method: methods over 30 lines, or nesting deeper than 3 levels.`

func detectPrompt(identifier, content string) string {
	lines := strings.Count(content, "\n") + 1
	var b strings.Builder
	fmt.Fprintf(&b, "You are a strict senior Java code reviewer. Analyze the file below (%d lines) for these design smells and report every one you find:\n\n", lines)
	b.WriteString(smellCatalog)
	b.WriteString(`

Respond with a single JSON object and nothing else:
{
  "has_smells": true,
  "smells": [
    {"type": "God Class", "severity": "high|medium|low", "location": "start-end lines",
     "description": "concrete evidence", "affected_methods": ["m1", "m2"]}
  ],
  "related_files": ["OtherClass.java"],
  "scope": "single_file|multi_file"
}
Set "scope" to "multi_file" when fixing the smells would require edits outside this file, and list those files in "related_files".
If there are no smells: {"has_smells": false, "smells": []}

`)
	fmt.Fprintf(&b, "File: %s (%d lines)\n\n%s\n", identifier, lines, content)
	return b.String()
}

func generatePrompt(req GenerateRequest, smellsJSON string) string {
	var b strings.Builder
	b.WriteString("You are an expert Java refactoring engineer.\n\nDETECTED SMELLS:\n")
	b.WriteString(smellsJSON)
	b.WriteString(`

INSTRUCTIONS:
1. First decide whether fixing these smells needs changes in OTHER files (imports, callers, subclasses, injected beans).
2. If it does, do not modify the code. Return a suggestion document: what to change, which files are affected, and a step-by-step guide.
3. If it can be done within this file only, return the complete refactored file:
   - keep every public and protected method signature unchanged
   - extract private methods or nested classes as needed
   - return complete, compilable code
If uncertain, return suggestions.
`)
	if req.SuggestOnly {
		b.WriteString("\nThis file must NOT be rewritten. Return suggestions only.\n")
	}
	if len(req.Context) > 0 {
		b.WriteString("\nRELATED FILES FOR CONTEXT:\n")
		names := make([]string, 0, len(req.Context))
		for name := range req.Context {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			content := req.Context[name]
			if len(content) > relatedFileLimit {
				content = content[:relatedFileLimit]
			}
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, content)
		}
	}
	fmt.Fprintf(&b, "\nORIGINAL CODE (%s):\n%s\n", req.Identifier, req.Content)
	fmt.Fprintf(&b, `
RETURN FORMAT (use exactly one marker, exactly once):
%s
[complete refactored code]

or

%s
[suggestions only, no code changes]
`, CodeMarker, SuggestionMarker)
	return b.String()
}

func revisePrompt(req RevisionRequest) string {
	var b strings.Builder
	b.WriteString("You previously refactored code, but received this feedback from human reviewers:\n\nFEEDBACK:\n")
	for _, note := range req.Feedback {
		fmt.Fprintf(&b, "- %s\n", note)
	}
	fmt.Fprintf(&b, "\nCURRENT FILE: %s\n\nCURRENT CODE:\n%s\n", req.Path, req.Content)
	b.WriteString(`
Please revise the code to address ALL feedback points.
- Explain changes in comments
- Maintain all previous improvements
- Return ONLY the complete, updated code without markdown formatting
`)
	return b.String()
}
