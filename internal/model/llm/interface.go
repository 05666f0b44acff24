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

package llm

import (
	"context"
	"fmt"
	"time"
)

// Client LLM 客户端接口；凭据按调用传入，便于凭据池轮换
type Client interface {
	// Chat 发送一轮对话并返回首个候选
	Chat(ctx context.Context, apiKey string, messages []Message, options GenerateOptions) (*Response, error)
	// Model 返回模型名称
	Model() string
	// Provider 返回提供商名称
	Provider() string
}

// GenerateOptions 生成选项
type GenerateOptions struct {
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	JSONMode    bool    `json:"json_mode"`
}

// Message 聊天消息
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Usage provider 回报的 token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response 一次对话的结果
type Response struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// SystemMessage / UserMessage 构造消息
func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }

// UserMessage 用户消息
func UserMessage(content string) Message { return Message{Role: "user", Content: content} }

// Config 单个 provider 的客户端配置
type Config struct {
	Name    string // provider 名称，用于日志/指标/配额
	Type    string // openai | rest | eino
	BaseURL string // OpenAI 兼容端点
	Model   string
	Timeout time.Duration
}

// NewClient 按 Type 创建客户端；rest 走 resty 直连 /chat/completions
func NewClient(cfg Config) (Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: provider %q has no model", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	switch cfg.Type {
	case "openai", "":
		return NewOpenAIClient(cfg), nil
	case "rest":
		return NewRESTClient(cfg), nil
	case "eino":
		return NewEinoClient(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider type %q", cfg.Type)
	}
}
