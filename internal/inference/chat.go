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

// Package inference 封装坏味检测与代码生成两类推理能力：
// 每次外呼先经过 Quota Governor，provider 报告凭据耗尽时轮换凭据，主 provider 不可用时切换备用。
package inference

import (
	"context"
	"log/slog"

	"refactor-pipeline/internal/model/llm"
	"refactor-pipeline/internal/quota"
	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/log"
	"refactor-pipeline/pkg/metrics"
	"refactor-pipeline/pkg/tracing"
)

// Chatter 已绑定凭据与配额的对话接口
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (*llm.Response, error)
	Provider() string
}

// GovernedClient 在每次外呼前向 Governor 申请配额
type GovernedClient struct {
	client llm.Client
	gov    *quota.Governor
	logger *log.Logger
}

// NewGovernedClient 创建受配额约束的客户端；gov 必须在所有 worker 间共享
func NewGovernedClient(client llm.Client, gov *quota.Governor, logger *log.Logger) *GovernedClient {
	if logger == nil {
		logger = log.Nop()
	}
	return &GovernedClient{client: client, gov: gov, logger: logger}
}

// Provider 返回提供商名称
func (c *GovernedClient) Provider() string { return c.client.Provider() }

// Chat 申请配额后调用；凭据耗尽时轮换并重发，池内凭据全部耗尽返回 NoCredentialsAvailableError
func (c *GovernedClient) Chat(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (*llm.Response, error) {
	estimated := estimateTokens(messages, options.MaxTokens)
	for {
		if err := c.gov.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		if err := c.gov.AcquireTokens(ctx, estimated); err != nil {
			return nil, err
		}
		key, err := c.gov.ActiveKey()
		if err != nil {
			return nil, err
		}

		callCtx, span := tracing.StartCallSpan(ctx, c.Provider(), "chat")
		resp, err := c.client.Chat(callCtx, key.Secret(), messages, options)
		tracing.EndSpan(span, err)
		if err == nil {
			metrics.LLMTokensTotal.WithLabelValues(c.Provider(), "input").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensTotal.WithLabelValues(c.Provider(), "output").Add(float64(resp.Usage.CompletionTokens))
			return resp, nil
		}
		if !llm.IsKeyExhausted(err) {
			return nil, err
		}
		next, rotErr := c.gov.RotateKey()
		if rotErr != nil {
			c.logger.Warn("credential pool exhausted", slog.String("provider", c.Provider()), slog.String("key", key.String()))
			return nil, rotErr
		}
		c.logger.Info("rotated credential", slog.String("provider", c.Provider()), slog.String("from", key.String()), slog.String("to", next.String()))
	}
}

func estimateTokens(messages []llm.Message, maxTokens int) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n/4 + maxTokens
}

// FallbackChain 主 provider 配额或凭据耗尽时切换到备用 provider
type FallbackChain struct {
	primary  Chatter
	fallback Chatter
	logger   *log.Logger
}

// NewFallbackChain fallback 为 nil 时等价于只用 primary
func NewFallbackChain(primary, fallback Chatter, logger *log.Logger) *FallbackChain {
	if logger == nil {
		logger = log.Nop()
	}
	return &FallbackChain{primary: primary, fallback: fallback, logger: logger}
}

// Provider 主 provider 名称
func (f *FallbackChain) Provider() string { return f.primary.Provider() }

// Chat 实现 Chatter
func (f *FallbackChain) Chat(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (*llm.Response, error) {
	resp, err := f.primary.Chat(ctx, messages, options)
	if err == nil || f.fallback == nil {
		return resp, err
	}
	switch perrors.KindOf(err) {
	case perrors.KindQuotaExhausted, perrors.KindNoCredentials:
	default:
		return nil, err
	}
	f.logger.Warn("primary provider unavailable, using fallback",
		slog.String("primary", f.primary.Provider()),
		slog.String("fallback", f.fallback.Provider()),
		slog.String("kind", string(perrors.KindOf(err))))
	return f.fallback.Chat(ctx, messages, options)
}
