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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"refactor-pipeline/internal/api/http"
	"refactor-pipeline/internal/api/http/middleware"
	"refactor-pipeline/internal/app"
	"refactor-pipeline/pkg/log"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App 状态 API：账本查询、运维操作与可选的 run 触发
type App struct {
	boot         *app.Bootstrap
	pipeline     *app.Pipeline
	router       *http.Router
	handler      *http.Handler
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
	runCancel    context.CancelFunc
}

// NewApp 创建 API 应用；withRunner 为 true 时装配完整流水线并开放 POST /api/runs
func NewApp(ctx context.Context, boot *app.Bootstrap, withRunner bool) (*App, error) {
	handler := http.NewHandler(boot.Ledger, boot.Retry)
	a := &App{boot: boot, handler: handler}
	if withRunner {
		p, err := boot.NewPipeline(ctx)
		if err != nil {
			return nil, fmt.Errorf("初始化流水线失败: %w", err)
		}
		a.pipeline = p
		runCtx, cancel := context.WithCancel(context.Background())
		a.runCancel = cancel
		handler.SetRunner(runCtx, p.Orchestrator)
	}
	mw := middleware.NewMiddleware(boot.Config.API.Token, boot.Config.API.RateLimit)
	a.router = http.NewRouter(handler, mw)
	return a, nil
}

// Run 启动 HTTP 服务，addr 如 "127.0.0.1:8090"
func (a *App) Run(addr string) error {
	cfg := a.boot.Config
	a.boot.Logger.Info("API 服务启动", "addr", addr)

	output := os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(cfg.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	t := cfg.Monitoring.Tracing
	endpoint := t.ExportEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if t.Enable && endpoint != "" {
		opts := []provider.Option{
			provider.WithServiceName(t.ServiceName),
			provider.WithExportEndpoint(endpoint),
		}
		if t.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
		tracerOpt, tcfg := hertztracing.NewServerTracer()
		a.hertz = a.router.Build(addr, tracerOpt)
		a.hertz.Use(hertztracing.ServerMiddleware(tcfg))
		a.boot.Logger.Info("链路追踪已启用", "service_name", t.ServiceName, "endpoint", endpoint)
	} else {
		a.hertz = a.router.Build(addr)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时）
func (a *App) Shutdown(ctx context.Context) error {
	if a.runCancel != nil {
		a.runCancel()
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if a.pipeline != nil {
		_ = a.pipeline.Close()
	}
	return a.boot.Close(ctx)
}
