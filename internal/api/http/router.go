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

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"refactor-pipeline/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
}

// NewRouter 创建路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	if mw == nil {
		mw = middleware.NewMiddleware("", 0)
	}
	return &Router{handler: handler, middleware: mw}
}

// Build 创建 Hertz 实例并注册路由；opts 可附加 tracer 等选项
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	all := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(all...)
	h.Use(r.middleware.CORS(), r.middleware.AccessLog())

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api", r.middleware.RateLimit())
	api.GET("/health", r.handler.HealthCheck)

	l := api.Group("/ledger")
	l.GET("/stats", r.handler.Stats)
	l.GET("/failed", r.handler.ListFailed)
	l.GET("/files", r.handler.ListFiles)
	l.GET("/files/*id", r.handler.GetFile)
	l.POST("/reset", r.middleware.Auth(), r.handler.Reset)
	l.POST("/skip", r.middleware.Auth(), r.handler.Skip)

	runs := api.Group("/runs")
	runs.POST("", r.middleware.Auth(), r.handler.TriggerRun)
	runs.GET("/last", r.handler.LastRun)
	return h
}
