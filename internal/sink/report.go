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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"refactor-pipeline/internal/ledger"
)

// ReportSink 把产物写入本地报告目录，每个文件一个子目录
type ReportSink struct {
	dir string
	now func() time.Time
}

// NewReportSink dir 为报告根目录
func NewReportSink(dir string) *ReportSink {
	return &ReportSink{dir: dir, now: time.Now}
}

// Name 实现 Sink
func (s *ReportSink) Name() string { return "report" }

// reportMeta 写入 metadata.json 与建议文档的 front matter
type reportMeta struct {
	Identifier   string      `json:"identifier" yaml:"identifier"`
	Mode         ledger.Mode `json:"mode" yaml:"mode"`
	SmellTypes   []string    `json:"smell_types" yaml:"smell_types"`
	SmellSummary string      `json:"smell_summary" yaml:"-"`
	FilesCreated []string    `json:"files_created" yaml:"-"`
	Patch        *PatchStats `json:"patch,omitempty" yaml:"patch,omitempty"`
	GeneratedAt  time.Time   `json:"generated_at" yaml:"generated_at"`
}

// Deliver 写入原文件、重构结果或建议文档、补丁与元数据，返回子目录路径
func (s *ReportSink) Deliver(_ context.Context, h Handoff) (string, error) {
	base := strings.TrimSuffix(path.Base(h.Identifier), path.Ext(h.Identifier))
	ext := path.Ext(h.Identifier)
	out := filepath.Join(s.dir, strings.ReplaceAll(strings.TrimSuffix(h.Identifier, ext), "/", "_"))
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", fmt.Errorf("report dir: %w", err)
	}
	meta := reportMeta{
		Identifier:   h.Identifier,
		Mode:         h.Mode,
		SmellTypes:   h.SmellTypes,
		SmellSummary: h.SmellSummary,
		GeneratedAt:  s.now().UTC(),
	}

	files := map[string][]byte{}
	if h.Artifact.Original != "" {
		files[base+"_original"+ext] = []byte(h.Artifact.Original)
	}
	switch h.Mode {
	case ledger.ModeFix:
		files[base+"_refactored"+ext] = []byte(h.Artifact.Body)
		if h.Artifact.Original != "" {
			patch, stats, err := UnifiedPatch(h.Identifier, h.Artifact.Original, h.Artifact.Body)
			if err != nil {
				return "", err
			}
			if patch != "" {
				files[base+".patch"] = []byte(patch)
				meta.Patch = &stats
			}
		}
	case ledger.ModeSuggest:
		doc, err := suggestionDocument(h, meta)
		if err != nil {
			return "", err
		}
		files[base+"_refactoring_suggestions.md"] = doc
	default:
		return "", fmt.Errorf("report: nothing to deliver for mode %q", h.Mode)
	}

	for name := range files {
		meta.FilesCreated = append(meta.FilesCreated, name)
	}
	sort.Strings(meta.FilesCreated)
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	files[base+"_metadata.json"] = metaJSON

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(out, name), content, 0o644); err != nil {
			return "", fmt.Errorf("report write %s: %w", name, err)
		}
	}
	return out, nil
}

// suggestionDocument YAML front matter + Markdown 正文
func suggestionDocument(h Handoff, meta reportMeta) ([]byte, error) {
	front, err := yaml.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	b.WriteString(SuggestionMarkdown(h))
	return b.Bytes(), nil
}

// SuggestionMarkdown 建议文档正文，报告目录与 PR 共用
func SuggestionMarkdown(h Handoff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Refactoring Suggestions\n\n**File**: `%s`\n\n", h.Identifier)
	b.WriteString("**This file requires multi-file changes. Manual refactoring is recommended.**\n\n")
	b.WriteString("## Detected Smells\n\n")
	b.WriteString(h.SmellSummary)
	b.WriteString("\n\n## Refactoring Guidance\n\n")
	b.WriteString(strings.TrimSpace(h.Artifact.Body))
	b.WriteString("\n")
	return b.String()
}
