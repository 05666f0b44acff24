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

package middleware

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"
)

// Middleware 中间件管理器
type Middleware struct {
	token   string
	limiter *rate.Limiter
}

// NewMiddleware token 为空时不做认证；rps<=0 时不限流
func NewMiddleware(token string, rps float64) *Middleware {
	m := &Middleware{token: token}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return m
}

// CORS 跨域头
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Max-Age", "86400")
		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// Auth Bearer token 认证，用于会改写账本的操作
func (m *Middleware) Auth() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if m.token == "" {
			c.Next(ctx)
			return
		}
		got := strings.TrimPrefix(string(c.GetHeader("Authorization")), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(m.token)) != 1 {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		c.Next(ctx)
	}
}

// RateLimit 进程级令牌桶
func (m *Middleware) RateLimit() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if m.limiter != nil && !m.limiter.Allow() {
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		c.Next(ctx)
	}
}

// AccessLog 经 hlog 输出访问日志
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s status=%d latency=%s",
			c.Method(), c.Request.URI().PathOriginal(), c.Response.StatusCode(), time.Since(start))
	}
}
