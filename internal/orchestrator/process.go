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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"refactor-pipeline/internal/decision"
	"refactor-pipeline/internal/inference"
	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/retry"
	"refactor-pipeline/internal/sink"
	"refactor-pipeline/internal/smell"
	"refactor-pipeline/internal/source"
	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/log"
	"refactor-pipeline/pkg/metrics"
	"refactor-pipeline/pkg/tracing"
)

type outcome struct {
	status     ledger.Status
	mode       ledger.Mode
	handedOff  bool
	handoffErr bool
}

// attempt 单次尝试中累积的计数，终结时一次性写入账本
type attempt struct {
	calls int
	det   smell.Detection
}

// errClaimLost 认领在处理中途失效（记录已不在 InProgress）
var errClaimLost = errors.New("claim lost")

// processOne 认领并处理一条记录直到 Completed/Failed/PermanentlyFailed/Skipped。
// 返回的 error 只可能是 run 级致命错误；致命错误同样先把记录终结为 Failed。
func (o *Orchestrator) processOne(ctx context.Context, logger *log.Logger, c source.Candidate) (outcome, error) {
	before, err := o.deps.Retry.Claim(ctx, c.Identifier)
	if err != nil {
		if errors.Is(err, retry.ErrNotClaimable) {
			logger.Debug("record no longer claimable", slog.String("file", c.Identifier))
			return outcome{}, nil
		}
		return outcome{}, perrors.CorruptState("orchestrator.claim", c.Identifier, err)
	}

	start := o.now()
	ctx, span := tracing.StartRecordSpan(ctx, c.Identifier, before.AttemptCount+1)
	flog := logger.With(slog.String("file", c.Identifier), slog.Int("attempt", before.AttemptCount+1))

	var at attempt
	mode, artifact, original, procErr := o.attempt(ctx, flog, c, &at)
	tracing.EndSpan(span, procErr)
	elapsed := o.now().Sub(start)
	tally := o.tally(&at, elapsed)

	if errors.Is(procErr, errClaimLost) {
		return o.claimLost(ctx, flog, &at, procErr)
	}

	var rec ledger.FileRecord
	var finErr error
	out := outcome{}
	switch {
	case procErr != nil && perrors.IsFatal(procErr):
		rec, finErr = o.deps.Retry.Fail(ctx, c.Identifier, procErr, retry.WithTally(tally))
		flog.Error("run-fatal error, record finalized as failed",
			slog.String("kind", string(perrors.KindOf(procErr))),
			slog.String("error", procErr.Error()))
		if finErr != nil {
			flog.Error("finalize failed", slog.String("error", finErr.Error()))
			return outcome{}, procErr
		}
		return outcome{status: rec.Status, mode: rec.EffectiveMode()}, procErr
	case procErr != nil:
		rec, finErr = o.deps.Retry.Fail(ctx, c.Identifier, procErr, retry.WithTally(tally))
		if finErr == nil {
			flog.Warn("attempt failed",
				slog.String("kind", string(perrors.KindOf(procErr))),
				slog.String("error", procErr.Error()),
				slog.String("status", string(rec.Status)))
		}
	case mode == ledger.ModeNone:
		rec, finErr = o.deps.Retry.MarkClean(ctx, c.Identifier, retry.WithTally(tally))
		if finErr == nil {
			flog.Info("no smells, skipped")
		}
	default:
		ref, herr := o.deps.Sink.Deliver(ctx, sink.Handoff{
			Identifier:   c.Identifier,
			Mode:         mode,
			Artifact:     sink.Artifact{Body: artifact, Original: original},
			SmellSummary: at.det.Summary(),
			SmellTypes:   at.det.Types(),
		})
		out.handoffErr = herr != nil
		out.handedOff = herr == nil && ref != ""
		if herr != nil {
			flog.Warn("handoff failed", slog.String("sink", o.deps.Sink.Name()), slog.String("error", herr.Error()))
		}
		rec, finErr = o.deps.Retry.Succeed(ctx, c.Identifier, mode, retry.WithHandoff(ref, herr), retry.WithTally(tally))
		if finErr == nil {
			flog.Info("completed", slog.String("mode", string(mode)), slog.Duration("elapsed", elapsed))
			if out.handedOff {
				flog.Info("handed off", slog.String("sink", o.deps.Sink.Name()), slog.String("ref", ref))
			}
		}
	}
	if finErr != nil {
		if errors.Is(finErr, retry.ErrInvalidTransition) {
			return o.claimLost(ctx, flog, &at, finErr)
		}
		return outcome{}, perrors.CorruptState("orchestrator.finalize", c.Identifier, finErr)
	}
	metrics.AttemptDuration.WithLabelValues(string(rec.Status)).Observe(elapsed.Seconds())
	out.status = rec.Status
	out.mode = rec.EffectiveMode()
	return out, nil
}

// claimLost 记录已被别处终结：本次尝试不再落状态，只补记已消耗的调用次数
func (o *Orchestrator) claimLost(ctx context.Context, flog *log.Logger, at *attempt, cause error) (outcome, error) {
	flog.Warn("claim lost, attempt discarded", slog.String("error", cause.Error()))
	if at.calls == 0 {
		return outcome{}, nil
	}
	if err := o.deps.Ledger.Tally(ctx, func(ct *ledger.Counters) { ct.QuotaUsage += at.calls }); err != nil {
		return outcome{}, perrors.CorruptState("orchestrator.tally", "", err)
	}
	return outcome{}, nil
}

// attempt 检测 → 判定 → 生成 → 校验；ModeNone 表示无坏味
func (o *Orchestrator) attempt(ctx context.Context, flog *log.Logger, c source.Candidate, at *attempt) (ledger.Mode, string, string, error) {
	raw, err := o.deps.Source.Read(ctx, c)
	if err != nil {
		return ledger.ModeNone, "", "", perrors.New(perrors.KindInternal, "source.read", c.Identifier, err)
	}
	content := string(raw)

	at.calls++
	det, err := o.deps.Detector.Detect(ctx, inference.DetectRequest{Identifier: c.Identifier, Content: content})
	if err != nil {
		return ledger.ModeNone, "", content, err
	}
	at.det = det

	verdict := o.deps.Engine.Decide(det, decision.CollectSignals(content, det))
	if verdict.Outcome == decision.OutcomeSkip {
		return ledger.ModeNone, "", content, nil
	}
	flog.Info("decided",
		slog.String("outcome", verdict.Outcome.String()),
		slog.Int("estimated_tokens", verdict.EstimatedTokens),
		slog.String("reasons", strings.Join(verdict.Reasons, ",")))
	if err := o.deps.Retry.RecordDecision(ctx, c.Identifier, verdict.Outcome.Mode(), det.Types()); err != nil {
		if errors.Is(err, retry.ErrInvalidTransition) {
			return ledger.ModeNone, "", content, fmt.Errorf("%w: %w", errClaimLost, err)
		}
		return ledger.ModeNone, "", content, perrors.CorruptState("orchestrator.decide", c.Identifier, err)
	}

	req := inference.GenerateRequest{
		Identifier:  c.Identifier,
		Content:     content,
		Detection:   det,
		SuggestOnly: verdict.Outcome == decision.OutcomeSuggest,
	}
	if loader, ok := o.deps.Source.(source.RelatedLoader); ok && o.cfg.RelatedFiles > 0 && len(det.RelatedFiles) > 0 {
		req.Context = loader.Related(ctx, det.RelatedFiles, o.cfg.RelatedFiles)
	}
	at.calls++
	art, err := o.deps.Generator.Generate(ctx, req)
	if err != nil {
		return ledger.ModeNone, "", content, err
	}
	mode, err := o.deps.Engine.Reconcile(verdict, art.Kind)
	if err != nil {
		return ledger.ModeNone, "", content, err
	}
	if mode == ledger.ModeFix {
		if err := o.deps.Validator.Validate(ctx, content, art.Body); err != nil {
			return ledger.ModeNone, "", content, err
		}
	} else if verdict.Outcome == decision.OutcomeFix {
		flog.Info("generator declared multi-file scope, downgraded to suggest")
	}
	return mode, art.Body, content, nil
}

// tally 终结时与状态迁移同一次落盘的计数增量
func (o *Orchestrator) tally(at *attempt, elapsed time.Duration) ledger.TallyFunc {
	return func(rec ledger.FileRecord, ct *ledger.Counters) {
		ct.QuotaUsage += at.calls
		ct.ProcessingSeconds += elapsed.Seconds()
		switch rec.Status {
		case ledger.StatusCompleted:
			ct.TotalCompleted++
			if rec.EffectiveMode() == ledger.ModeFix {
				ct.FixRefactorings++
			} else {
				ct.SuggestOnly++
			}
			if rec.HandoffRef != "" && rec.HandoffError == "" {
				ct.Handoffs++
			}
		case ledger.StatusSkipped:
			ct.TotalSkipped++
		case ledger.StatusFailed:
			ct.TotalFailed++
		case ledger.StatusPermanentlyFailed:
			ct.TotalFailed++
			ct.PermanentlyFailed++
		}
		if rec.Status != ledger.StatusCompleted {
			return
		}
		if ct.SmellsByType == nil {
			ct.SmellsByType = map[string]int{}
		}
		if ct.SmellsBySeverity == nil {
			ct.SmellsBySeverity = map[string]int{}
		}
		for _, s := range at.det.Smells {
			ct.SmellsByType[s.Type]++
			if s.Severity != "" {
				ct.SmellsBySeverity[s.Severity]++
			}
		}
	}
}
