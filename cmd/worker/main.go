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

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"refactor-pipeline/internal/app/worker"
	"refactor-pipeline/pkg/config"
	perrors "refactor-pipeline/pkg/errors"
)

func main() {
	var (
		configPath string
		watch      bool
		monitor    bool
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the refactoring pipeline once, or continuously with --watch",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			run(configPath, watch, monitor, interval)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "pipeline config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and start a new run whenever sources change")
	cmd.Flags().BoolVar(&monitor, "monitor", false, "after the run, keep polling opened pull requests for review feedback")
	cmd.Flags().DurationVar(&interval, "monitor-interval", 0, "feedback poll interval (overrides sink.github.feedback.interval)")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, watch, monitor bool, interval time.Duration) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if monitor && !cfg.Sink.GitHub.Enable {
		log.Fatalf("--monitor 需要开启 sink.github")
	}
	if interval > 0 {
		cfg.Sink.GitHub.Feedback.Interval = interval
	}

	// 第一次信号：停止认领新记录，在途记录完成后退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := worker.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}

	watch = watch || cfg.Scan.Watch
	switch {
	case watch && monitor:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return app.Watch(gctx) })
		g.Go(func() error { return app.Monitor(gctx) })
		err = g.Wait()
	case watch:
		err = app.Watch(ctx)
	default:
		s, runErr := app.RunOnce(ctx)
		err = runErr
		app.Bootstrap().Logger.Info("run summary",
			"run_id", s.RunID,
			"processed", s.Processed,
			"completed_fix", s.CompletedFix,
			"completed_suggest", s.CompletedSuggest,
			"failed_will_retry", s.FailedWillRetry,
			"permanently_failed", s.PermanentlyFailed)
		if err == nil && monitor {
			err = app.Monitor(ctx)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := app.Shutdown(shutdownCtx); serr != nil {
		log.Printf("关闭应用失败: %v", serr)
	}

	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case perrors.IsFatal(err):
		log.Printf("run aborted: %v", err)
		os.Exit(2)
	default:
		log.Printf("run failed: %v", err)
		os.Exit(1)
	}
}
