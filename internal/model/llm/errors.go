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
	"net"
	"net/http"
	"strings"

	perrors "refactor-pipeline/pkg/errors"
)

// ErrKeyExhausted provider 报告当前凭据额度耗尽（429 / RESOURCE_EXHAUSTED）
var ErrKeyExhausted = errors.New("llm: credential quota exhausted")

var quotaMarkers = []string{"resource_exhausted", "insufficient_quota", "quota exceeded", "rate limit", "rate_limit"}

// ClassifyStatus 将 HTTP 状态码与响应体映射为带类别的错误
func ClassifyStatus(provider string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("%s: status %d: %s", provider, status, truncate(body, 300))
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusTooManyRequests || containsAny(lower, quotaMarkers):
		return perrors.QuotaExhausted("llm.chat", msg, ErrKeyExhausted)
	case status == http.StatusRequestTimeout || status >= 500:
		return perrors.TransientProvider("llm.chat", msg, nil)
	default:
		return perrors.Inference("llm.chat", msg, nil)
	}
}

// ClassifyTransport 网络层错误：超时与连接错误视为瞬时
func ClassifyTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return perrors.TransientProvider("llm.chat", provider, err)
	}
	lower := strings.ToLower(err.Error())
	if containsAny(lower, quotaMarkers) {
		return perrors.QuotaExhausted("llm.chat", provider, fmt.Errorf("%w: %v", ErrKeyExhausted, err))
	}
	return perrors.TransientProvider("llm.chat", provider, err)
}

// IsKeyExhausted 是否应轮换凭据
func IsKeyExhausted(err error) bool {
	return errors.Is(err, ErrKeyExhausted)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
