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
	"net/http"
	"regexp"
	"strconv"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	perrors "refactor-pipeline/pkg/errors"
)

// EinoClient 通过 eino ChatModel 组件调用 OpenAI 兼容端点
type EinoClient struct {
	cfg Config

	mu     sync.Mutex
	models map[string]*openai.ChatModel // 按凭据缓存
}

// NewEinoClient 创建 eino 客户端
func NewEinoClient(cfg Config) *EinoClient {
	return &EinoClient{cfg: cfg, models: make(map[string]*openai.ChatModel)}
}

func (c *EinoClient) chatModel(ctx context.Context, apiKey string) (*openai.ChatModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[apiKey]; ok {
		return m, nil
	}
	m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: c.cfg.BaseURL,
		Model:   c.cfg.Model,
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	c.models[apiKey] = m
	return m, nil
}

// Chat 实现 Client.Chat
func (c *EinoClient) Chat(ctx context.Context, apiKey string, messages []Message, options GenerateOptions) (*Response, error) {
	cm, err := c.chatModel(ctx, apiKey)
	if err != nil {
		return nil, perrors.Inference("llm.chat", c.cfg.Name+": init eino chat model", err)
	}
	input := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			input = append(input, schema.SystemMessage(m.Content))
		case "assistant":
			input = append(input, schema.AssistantMessage(m.Content, nil))
		default:
			input = append(input, schema.UserMessage(m.Content))
		}
	}
	opts := []model.Option{model.WithTemperature(options.Temperature)}
	if options.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(options.MaxTokens))
	}

	out, err := cm.Generate(ctx, input, opts...)
	if err != nil {
		return nil, c.classify(err)
	}
	resp := &Response{Content: out.Content}
	if out.ResponseMeta != nil {
		resp.FinishReason = out.ResponseMeta.FinishReason
		if u := out.ResponseMeta.Usage; u != nil {
			resp.Usage = Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
		}
	}
	return resp, nil
}

var statusPattern = regexp.MustCompile(`(?i)status code:?\s*(\d{3})`)

// eino 只暴露错误文本，从中还原状态码
func (c *EinoClient) classify(err error) error {
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		if status, convErr := strconv.Atoi(m[1]); convErr == nil && status != http.StatusOK {
			return ClassifyStatus(c.cfg.Name, status, err.Error())
		}
	}
	return ClassifyTransport(c.cfg.Name, err)
}

// Model 返回模型名称
func (c *EinoClient) Model() string { return c.cfg.Model }

// Provider 返回提供商名称
func (c *EinoClient) Provider() string { return c.cfg.Name }
