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
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	perrors "refactor-pipeline/pkg/errors"
)

// OpenAIClient 基于 go-openai 的客户端
type OpenAIClient struct {
	provider string
	model    string
	baseURL  string
	http     *http.Client
}

// NewOpenAIClient 创建 OpenAI 客户端；BaseURL 可指向任意兼容端点
func NewOpenAIClient(cfg Config) *OpenAIClient {
	return &OpenAIClient{
		provider: cfg.Name,
		model:    cfg.Model,
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *OpenAIClient) client(apiKey string) *openai.Client {
	conf := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		conf.BaseURL = c.baseURL
	}
	conf.HTTPClient = c.http
	return openai.NewClientWithConfig(conf)
}

// Chat 实现 Client.Chat
func (c *OpenAIClient) Chat(ctx context.Context, apiKey string, messages []Message, options GenerateOptions) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	if options.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client(apiKey).CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, perrors.Inference("llm.chat", c.provider+": no choices", nil)
	}
	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			body = fmt.Sprintf("%s (%s)", body, code)
		}
		return ClassifyStatus(c.provider, apiErr.HTTPStatusCode, body)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyStatus(c.provider, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return ClassifyTransport(c.provider, err)
}

// Model 返回模型名称
func (c *OpenAIClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *OpenAIClient) Provider() string { return c.provider }
