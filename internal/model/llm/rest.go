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
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	perrors "refactor-pipeline/pkg/errors"
)

const defaultBaseURL = "https://api.openai.com/v1"

// RESTClient 直接调用 OpenAI 兼容 /chat/completions 的客户端
type RESTClient struct {
	provider string
	model    string
	baseURL  string
	client   *resty.Client
}

// NewRESTClient 创建 REST 客户端；重试交给上层 Retry Controller，这里不做 resty 重试
func NewRESTClient(cfg Config) *RESTClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Content-Type", "application/json")
	return &RESTClient{
		provider: cfg.Name,
		model:    cfg.Model,
		baseURL:  baseURL,
		client:   client,
	}
}

type restRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	Temperature    float32           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type restResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat 实现 Client.Chat
func (c *RESTClient) Chat(ctx context.Context, apiKey string, messages []Message, options GenerateOptions) (*Response, error) {
	req := restRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}
	if options.JSONMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}

	r := c.client.R().SetContext(ctx).SetBody(req)
	if apiKey != "" {
		r.SetAuthToken(apiKey)
	}
	start := time.Now()
	resp, err := r.Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, ClassifyTransport(c.provider, err)
	}
	if err := ClassifyStatus(c.provider, resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	var result restResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, perrors.Inference("llm.chat", fmt.Sprintf("%s: decode response", c.provider), err)
	}
	if len(result.Choices) == 0 {
		return nil, perrors.Inference("llm.chat", fmt.Sprintf("%s: no choices after %s", c.provider, time.Since(start).Round(time.Millisecond)), nil)
	}
	return &Response{
		Content:      result.Choices[0].Message.Content,
		FinishReason: result.Choices[0].FinishReason,
		Usage:        result.Usage,
	}, nil
}

// Model 返回模型名称
func (c *RESTClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *RESTClient) Provider() string { return c.provider }
