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
	"context"
	"log/slog"
	"strings"

	"refactor-pipeline/internal/model/llm"
	"refactor-pipeline/internal/smell"
	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/log"
)

// DetectRequest 坏味检测请求
type DetectRequest struct {
	Identifier string
	Content    string
}

// Detector 坏味检测
type Detector struct {
	chat    Chatter
	options llm.GenerateOptions
	logger  *log.Logger
}

// NewDetector 创建检测器；使用 JSON 模式与低温度
func NewDetector(chat Chatter, maxTokens int, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.Nop()
	}
	return &Detector{
		chat:    chat,
		options: llm.GenerateOptions{Temperature: 0.1, MaxTokens: maxTokens, JSONMode: true},
		logger:  logger,
	}
}

// wireSmell 兼容旧响应里的 line_range / evidence 字段
type wireSmell struct {
	smell.Smell
	LineRange string `json:"line_range"`
	Evidence  string `json:"evidence"`
}

type wireDetection struct {
	HasSmells    bool        `json:"has_smells"`
	Smells       []wireSmell `json:"smells"`
	RelatedFiles []string    `json:"related_files"`
	Scope        string      `json:"scope"`
}

// Detect 返回检测结果；响应不是合法 JSON 时返回 InferenceError
func (d *Detector) Detect(ctx context.Context, req DetectRequest) (smell.Detection, error) {
	resp, err := d.chat.Chat(ctx, []llm.Message{llm.UserMessage(detectPrompt(req.Identifier, req.Content))}, d.options)
	if err != nil {
		return smell.Detection{}, err
	}
	var wire wireDetection
	if err := ExtractJSON(resp.Content, &wire); err != nil {
		return smell.Detection{}, perrors.Inference("detect", req.Identifier+": malformed detection response", err)
	}

	det := smell.Detection{HasSmells: wire.HasSmells, RelatedFiles: wire.RelatedFiles}
	switch smell.Scope(strings.ToLower(wire.Scope)) {
	case smell.ScopeSingleFile:
		det.Scope = smell.ScopeSingleFile
	case smell.ScopeMultiFile:
		det.Scope = smell.ScopeMultiFile
	}
	for _, ws := range wire.Smells {
		s := ws.Smell
		if s.Type == "" {
			continue
		}
		if s.Location == "" {
			s.Location = ws.LineRange
		}
		if s.Description == "" {
			s.Description = ws.Evidence
		}
		s.Severity = strings.ToLower(s.Severity)
		det.Smells = append(det.Smells, s)
	}
	if len(det.Smells) > 0 {
		det.HasSmells = true
	}
	d.logger.Debug("detection finished", slog.String("file", req.Identifier), slog.Int("smells", len(det.Smells)))
	return det, nil
}
