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

// Package orchestrator 驱动一次 run：合并候选、挑选可处理记录、逐个认领处理并在每次终结后落盘。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"refactor-pipeline/internal/decision"
	"refactor-pipeline/internal/inference"
	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/retry"
	"refactor-pipeline/internal/sink"
	"refactor-pipeline/internal/smell"
	"refactor-pipeline/internal/source"
	"refactor-pipeline/internal/validate"
	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/log"
	"refactor-pipeline/pkg/metrics"
	"refactor-pipeline/pkg/tracing"
)

// Detector 坏味检测能力
type Detector interface {
	Detect(ctx context.Context, req inference.DetectRequest) (smell.Detection, error)
}

// Generator 代码/建议生成能力
type Generator interface {
	Generate(ctx context.Context, req inference.GenerateRequest) (inference.Artifact, error)
}

// Config run 参数
type Config struct {
	MaxFilesPerRun    int
	Concurrency       int
	RelatedFiles      int  // 作为上下文加载的相关文件上限
	ReprocessOnChange bool // 终态记录内容变化后重新排队
}

// Deps 协作者，构造时一次性注入
type Deps struct {
	Ledger    *ledger.Ledger
	Retry     *retry.Controller
	Source    source.Source
	Detector  Detector
	Generator Generator
	Engine    *decision.Engine
	Validator *validate.Validator
	Sink      sink.Sink
	Logger    *log.Logger
}

// Orchestrator Run Orchestrator
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	// 同一进程内 run 串行
	runMu sync.Mutex
}

// New 创建 Orchestrator
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Ledger == nil || deps.Retry == nil || deps.Source == nil || deps.Detector == nil || deps.Generator == nil {
		return nil, fmt.Errorf("orchestrator: %w: ledger, retry, source, detector and generator are required", perrors.ErrInvalidArg)
	}
	if cfg.MaxFilesPerRun <= 0 {
		cfg.MaxFilesPerRun = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if deps.Engine == nil {
		deps.Engine = decision.NewEngine(0)
	}
	if deps.Validator == nil {
		deps.Validator = validate.New(0, nil)
	}
	if deps.Sink == nil {
		deps.Sink = sink.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, now: time.Now}, nil
}

// WithClock 注入时钟（测试用）
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Summary run 结果，区分 Completed/Fix、Completed/Suggest、Failed 待重试与永久失败
type Summary struct {
	RunID             string        `json:"run_id,omitempty"`
	Candidates        int           `json:"candidates"`
	NewRecords        int           `json:"new_records"`
	Requeued          int           `json:"requeued"`
	Selected          int           `json:"selected"`
	Processed         int           `json:"processed"`
	CompletedFix      int           `json:"completed_fix"`
	CompletedSuggest  int           `json:"completed_suggest"`
	Skipped           int           `json:"skipped"`
	FailedWillRetry   int           `json:"failed_will_retry"`
	PermanentlyFailed int           `json:"permanently_failed"`
	Handoffs          int           `json:"handoffs"`
	HandoffErrors     int           `json:"handoff_errors"`
	Canceled          bool          `json:"canceled,omitempty"`
	Duration          time.Duration `json:"duration"`
}

func (s *Summary) add(st ledger.Status, mode ledger.Mode) {
	s.Processed++
	switch st {
	case ledger.StatusCompleted:
		if mode == ledger.ModeFix {
			s.CompletedFix++
		} else {
			s.CompletedSuggest++
		}
	case ledger.StatusSkipped:
		s.Skipped++
	case ledger.StatusFailed:
		s.FailedWillRetry++
	case ledger.StatusPermanentlyFailed:
		s.PermanentlyFailed++
	}
}

type selected struct {
	cand source.Candidate
}

// Run 执行一次 run。单文件错误转为状态迁移；账本错误与凭据池耗尽终止 run 并返回错误。
// ctx 取消后不再认领新记录，在途记录完成当前尝试后返回 context.Canceled。
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	start := time.Now()
	var sum Summary
	if err := o.deps.Ledger.Load(ctx); err != nil {
		metrics.RunsTotal.WithLabelValues("fatal").Inc()
		return sum, err
	}

	cands, err := source.Collect(ctx, o.deps.Source)
	if err != nil {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		return sum, fmt.Errorf("collect candidates: %w", err)
	}
	sum.Candidates = len(cands)
	if err := o.merge(ctx, cands, &sum); err != nil {
		metrics.RunsTotal.WithLabelValues("fatal").Inc()
		return sum, err
	}

	picked := o.selectEligible(cands)
	sum.Selected = len(picked)
	if len(picked) == 0 {
		o.deps.Logger.Info("nothing to process", slog.Int("candidates", len(cands)))
		metrics.RunsTotal.WithLabelValues("idle").Inc()
		sum.Duration = time.Since(start)
		return sum, nil
	}

	sum.RunID = uuid.NewString()
	if err := o.deps.Ledger.BeginRun(ctx, sum.RunID); err != nil {
		metrics.RunsTotal.WithLabelValues("fatal").Inc()
		return sum, err
	}
	runCtx, span := tracing.StartRunSpan(ctx, sum.RunID)
	logger := o.deps.Logger.With(slog.String("run_id", sum.RunID))
	logger.Info("run started", slog.Int("candidates", len(cands)), slog.Int("selected", len(picked)))

	runErr := o.process(runCtx, logger, picked, &sum)
	sum.Duration = time.Since(start)

	result := "ok"
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		sum.Canceled = true
		result = "canceled"
	case runErr != nil:
		result = "fatal"
	}
	tracing.EndSpan(span, runErr)
	metrics.RunsTotal.WithLabelValues(result).Inc()

	// 取消后仍需写入 run 结束记录
	endCtx := context.WithoutCancel(ctx)
	if err := o.deps.Ledger.EndRun(endCtx, sum.RunID, sum.Processed, sum.Handoffs, result); err != nil && runErr == nil {
		runErr = err
	}
	logger.Info("run finished",
		slog.String("result", result),
		slog.Int("processed", sum.Processed),
		slog.Int("completed_fix", sum.CompletedFix),
		slog.Int("completed_suggest", sum.CompletedSuggest),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed_will_retry", sum.FailedWillRetry),
		slog.Int("permanently_failed", sum.PermanentlyFailed),
		slog.Duration("duration", sum.Duration))
	return sum, runErr
}

// merge 新 identifier 以 Pending 入账；内容变化的终态记录按配置重新排队
func (o *Orchestrator) merge(ctx context.Context, cands []source.Candidate, sum *Summary) error {
	for _, c := range cands {
		rec, exists := o.deps.Ledger.Get(c.Identifier)
		if exists && !(o.cfg.ReprocessOnChange && rec.Status.Terminal()) {
			continue
		}
		content, err := o.deps.Source.Read(ctx, c)
		if err != nil {
			o.deps.Logger.Warn("candidate unreadable", slog.String("file", c.Identifier), slog.String("error", err.Error()))
			continue
		}
		hash := source.ContentHash(content)
		if !exists {
			created, err := o.deps.Ledger.EnsurePending(ctx, c.Identifier, hash)
			if err != nil {
				return err
			}
			if created {
				sum.NewRecords++
			}
			continue
		}
		if rec.ContentHash == "" || rec.ContentHash == hash {
			continue
		}
		if err := o.deps.Ledger.Requeue(ctx, c.Identifier, hash); err != nil {
			return err
		}
		sum.Requeued++
		o.deps.Logger.Info("content changed, requeued", slog.String("file", c.Identifier), slog.String("was", string(rec.Status)))
	}
	return nil
}

// selectEligible 按候选顺序取至多 MaxFilesPerRun 个可认领记录
func (o *Orchestrator) selectEligible(cands []source.Candidate) []selected {
	now := o.now()
	var out []selected
	seen := map[string]bool{}
	for _, c := range cands {
		if len(out) >= o.cfg.MaxFilesPerRun {
			break
		}
		if seen[c.Identifier] {
			continue
		}
		seen[c.Identifier] = true
		rec, ok := o.deps.Ledger.Get(c.Identifier)
		if !ok || !o.deps.Retry.Eligible(rec, now) {
			continue
		}
		out = append(out, selected{cand: c})
	}
	return out
}

// process 多 worker 共享同一个 Governor（在 Detector/Generator 内），认领经账本 check-and-set 保证排他
func (o *Orchestrator) process(ctx context.Context, logger *log.Logger, picked []selected, sum *Summary) error {
	work := make(chan selected)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		for _, p := range picked {
			select {
			case <-gctx.Done():
				return nil
			case work <- p:
			}
		}
		return nil
	})

	workers := o.cfg.Concurrency
	if workers > len(picked) {
		workers = len(picked)
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for p := range work {
				if gctx.Err() != nil {
					return nil
				}
				out, err := o.processOne(context.WithoutCancel(gctx), logger, p.cand)
				if out.status != "" {
					mu.Lock()
					sum.add(out.status, out.mode)
					if out.handedOff {
						sum.Handoffs++
					}
					if out.handoffErr {
						sum.HandoffErrors++
					}
					mu.Unlock()
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
