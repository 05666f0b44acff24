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

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"refactor-pipeline/internal/app"
	"refactor-pipeline/internal/orchestrator"
	"refactor-pipeline/internal/source"
	"refactor-pipeline/pkg/config"
	perrors "refactor-pipeline/pkg/errors"
)

// App Worker 应用：执行一次 run，或在 watch 模式下每次源码变化后执行一次
type App struct {
	boot     *app.Bootstrap
	pipeline *app.Pipeline
	runMu    sync.Mutex
}

// NewApp 创建 Worker 应用
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	boot, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p, err := boot.NewPipeline(ctx)
	if err != nil {
		_ = boot.Close(ctx)
		return nil, err
	}
	return &App{boot: boot, pipeline: p}, nil
}

// Bootstrap 共享组件
func (a *App) Bootstrap() *app.Bootstrap { return a.boot }

// Pipeline 已装配的 run 组件
func (a *App) Pipeline() *app.Pipeline { return a.pipeline }

// RunOnce 执行一次 run
func (a *App) RunOnce(ctx context.Context) (orchestrator.Summary, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	sum, err := a.pipeline.Orchestrator.Run(ctx)
	if err != nil && perrors.IsFatal(err) {
		a.boot.Logger.Error("run aborted", slog.String("kind", string(perrors.KindOf(err))), slog.String("error", err.Error()))
	}
	return sum, err
}

// Watch 先执行一次 run，之后每当源码变化（去抖后）再执行；ctx 取消或致命错误时返回
func (a *App) Watch(ctx context.Context) error {
	if _, err := a.RunOnce(ctx); err != nil {
		return err
	}
	debounce := a.boot.Config.Scan.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	w, err := source.NewWatcher(a.pipeline.Source, debounce, a.boot.Logger.With("component", "watcher"))
	if err != nil {
		return fmt.Errorf("初始化文件监听失败: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	err = w.Run(ctx, func(ctx context.Context, ids []string) {
		a.boot.Logger.Info("sources changed", slog.Int("files", len(ids)))
		if _, err := a.RunOnce(ctx); err != nil && perrors.IsFatal(err) {
			cancel(err)
		}
	})
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

// Monitor 持续跟进已开 PR 的评审意见；ctx 取消或致命错误时返回
func (a *App) Monitor(ctx context.Context) error {
	m, err := a.boot.NewMonitor(a.pipeline)
	if err != nil {
		return err
	}
	err = m.Run(ctx)
	if err != nil && perrors.IsFatal(err) {
		a.boot.Logger.Error("feedback monitor aborted", slog.String("kind", string(perrors.KindOf(err))), slog.String("error", err.Error()))
	}
	return err
}

// Shutdown 释放资源
func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(a.pipeline.Close(), a.boot.Close(ctx))
}
