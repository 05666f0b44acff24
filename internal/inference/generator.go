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
	"encoding/json"

	"refactor-pipeline/internal/decision"
	"refactor-pipeline/internal/model/llm"
	"refactor-pipeline/internal/smell"
	perrors "refactor-pipeline/pkg/errors"
)

// GenerateRequest 生成请求；SuggestOnly 对应生成前判定为 Suggest
type GenerateRequest struct {
	Identifier  string
	Content     string
	Detection   smell.Detection
	SuggestOnly bool
	Context     map[string]string // 相关文件名 → 内容
}

// Generator 代码/建议生成
type Generator struct {
	chat    Chatter
	options llm.GenerateOptions
}

// NewGenerator 创建生成器
func NewGenerator(chat Chatter, maxTokens int, temperature float32) *Generator {
	return &Generator{chat: chat, options: llm.GenerateOptions{Temperature: temperature, MaxTokens: maxTokens}}
}

// Generate 返回带标签的产物；标记缺失或重复时 Kind 为 ArtifactMalformed，由调用方判定
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (Artifact, error) {
	smellsJSON, err := json.MarshalIndent(req.Detection.Smells, "", "  ")
	if err != nil {
		return Artifact{}, perrors.Inference("generate", req.Identifier, err)
	}
	resp, err := g.chat.Chat(ctx, []llm.Message{llm.UserMessage(generatePrompt(req, string(smellsJSON)))}, g.options)
	if err != nil {
		return Artifact{}, err
	}
	art := ParseArtifact(resp.Content)
	if art.Kind == decision.ArtifactCode && resp.FinishReason == "length" {
		return Artifact{}, perrors.Validation(perrors.KindTruncationSuspected, req.Identifier+": generation stopped at max tokens")
	}
	return art, nil
}

// RevisionRequest 按评审意见改写已交付的文件
type RevisionRequest struct {
	Path     string
	Content  string
	Feedback []string // 每条一行，已带作者与位置
}

// Revise 返回改写后的完整文件；与 Generate 共用同一受配额约束的 Chatter
func (g *Generator) Revise(ctx context.Context, req RevisionRequest) (string, error) {
	resp, err := g.chat.Chat(ctx, []llm.Message{llm.UserMessage(revisePrompt(req))}, g.options)
	if err != nil {
		return "", err
	}
	if resp.FinishReason == "length" {
		return "", perrors.Validation(perrors.KindTruncationSuspected, req.Path+": revision stopped at max tokens")
	}
	code := cleanCode(resp.Content)
	if code == "" {
		return "", perrors.Validation(perrors.KindMalformedOutput, req.Path+": empty revision")
	}
	return code, nil
}
