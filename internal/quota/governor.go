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

package quota

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/metrics"
)

// Config Quota Governor 配置
type Config struct {
	Provider        string
	MaxWait         time.Duration // 超过即 QuotaExhaustedError
	TokensPerMinute int           // >0 时额外按 token 预算节流
}

// Governor 外呼节流的唯一入口；多 worker 时必须共享同一实例
type Governor struct {
	cfg    Config
	window Window
	keys   *KeyPool
	tokens *rate.Limiter
	now    func() time.Time
}

// NewGovernor 创建 Governor；keys 可为 nil（无凭据轮换）
func NewGovernor(cfg Config, window Window, keys *KeyPool) *Governor {
	g := &Governor{cfg: cfg, window: window, keys: keys, now: time.Now}
	if cfg.TokensPerMinute > 0 {
		g.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), cfg.TokensPerMinute)
	}
	return g
}

// Provider 所属 provider
func (g *Governor) Provider() string { return g.cfg.Provider }

// Acquire 阻塞直到窗口内有 cost 的余量并扣减；预计等待超过 MaxWait 时立即失败
func (g *Governor) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		return nil
	}
	start := g.now()
	deadline := start.Add(g.cfg.MaxWait)
	for {
		now := g.now()
		ok, retryAt, err := g.window.Reserve(ctx, now, cost)
		if err != nil {
			metrics.QuotaAcquired.WithLabelValues("exhausted").Inc()
			return perrors.QuotaExhausted("quota.acquire", g.cfg.Provider, err)
		}
		if ok {
			metrics.QuotaAcquired.WithLabelValues("ok").Inc()
			metrics.QuotaWaitSeconds.Observe(now.Sub(start).Seconds())
			return nil
		}
		if retryAt.After(deadline) {
			metrics.QuotaAcquired.WithLabelValues("exhausted").Inc()
			return perrors.QuotaExhausted("quota.acquire",
				fmt.Sprintf("%s: window frees at %s, beyond max wait %s", g.cfg.Provider, retryAt.Format(time.RFC3339), g.cfg.MaxWait), nil)
		}
		timer := time.NewTimer(retryAt.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.QuotaAcquired.WithLabelValues("canceled").Inc()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// AcquireTokens 按估算 token 数节流，等待上限同 MaxWait
func (g *Governor) AcquireTokens(ctx context.Context, tokens int) error {
	if g.tokens == nil || tokens <= 0 {
		return nil
	}
	if tokens > g.tokens.Burst() {
		tokens = g.tokens.Burst()
	}
	wctx, cancel := context.WithTimeout(ctx, g.cfg.MaxWait)
	defer cancel()
	if err := g.tokens.WaitN(wctx, tokens); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return perrors.QuotaExhausted("quota.tokens", fmt.Sprintf("%s: %d tokens", g.cfg.Provider, tokens), err)
	}
	return nil
}

// ActiveKey 当前凭据
func (g *Governor) ActiveKey() (KeyHandle, error) {
	if g.keys == nil {
		return KeyHandle{Provider: g.cfg.Provider}, nil
	}
	return g.keys.Active()
}

// RotateKey provider 报告当前凭据耗尽时调用
func (g *Governor) RotateKey() (KeyHandle, error) {
	if g.keys == nil {
		return KeyHandle{}, perrors.NoCredentials("quota.rotate", g.cfg.Provider+": no credential pool")
	}
	return g.keys.RotateKey()
}

// Usage 当前窗口占用
func (g *Governor) Usage(ctx context.Context) (inFlight, limit int, err error) {
	_, limit = g.window.Size()
	inFlight, err = g.window.InFlight(ctx, g.now())
	return inFlight, limit, err
}
