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

// Package retry 实现单文件记录的状态机：认领、成功、失败、重试退避与永久失败。
// 所有迁移都通过 Ledger.Update 在账本锁内完成，保证认领的排他性。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refactor-pipeline/internal/ledger"
	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/metrics"
	"refactor-pipeline/pkg/redaction"
)

// ErrNotClaimable 记录不在可认领状态或退避未结束
var ErrNotClaimable = errors.New("record not claimable")

// Policy 重试策略
type Policy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	HistoryLimit int
}

// DefaultPolicy 3 次重试，基准退避 30s
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 30 * time.Second, HistoryLimit: 10}
}

// Controller Retry Controller
type Controller struct {
	ledger   *ledger.Ledger
	policy   Policy
	now      func() time.Time
	redactor *redaction.Redactor
}

// Option Controller 可选项
type Option func(*Controller)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRedactor 写入账本的错误消息先经过脱敏
func WithRedactor(r *redaction.Redactor) Option {
	return func(c *Controller) { c.redactor = r }
}

// NewController 创建 Controller
func NewController(l *ledger.Ledger, policy Policy, opts ...Option) *Controller {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultPolicy().MaxRetries
	}
	c := &Controller{ledger: l, policy: policy, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Policy 当前策略
func (c *Controller) Policy() Policy { return c.policy }

// Backoff base_delay * 2^attempt
func (c *Controller) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return c.policy.BaseDelay * time.Duration(1<<uint(attempt))
}

// EligibleAt Failed 记录的最早可重试时间；不可重试时返回 false
func (c *Controller) EligibleAt(rec ledger.FileRecord) (time.Time, bool) {
	switch rec.Status {
	case ledger.StatusPending:
		return time.Time{}, true
	case ledger.StatusFailed:
		if rec.AttemptCount >= c.policy.MaxRetries {
			return time.Time{}, false
		}
		if rec.LastAttemptAt == nil {
			return time.Time{}, true
		}
		return rec.LastAttemptAt.Add(c.Backoff(rec.AttemptCount)), true
	default:
		return time.Time{}, false
	}
}

// Eligible Pending，或 Failed 且退避已结束
func (c *Controller) Eligible(rec ledger.FileRecord, now time.Time) bool {
	at, ok := c.EligibleAt(rec)
	return ok && !now.Before(at)
}

// Claim 原子地把可认领记录置为 InProgress，返回认领前的记录
func (c *Controller) Claim(ctx context.Context, identifier string) (ledger.FileRecord, error) {
	var before ledger.FileRecord
	now := c.now().UTC()
	_, err := c.ledger.Update(ctx, identifier, func(rec *ledger.FileRecord) error {
		if !c.Eligible(*rec, now) {
			return fmt.Errorf("%w: %s is %s", ErrNotClaimable, identifier, rec.Status)
		}
		if err := ValidateTransition(identifier, rec.Status, ledger.StatusInProgress); err != nil {
			return err
		}
		before = rec.Clone()
		rec.Status = ledger.StatusInProgress
		return nil
	})
	if err != nil {
		return ledger.FileRecord{}, err
	}
	return before, nil
}

// RecordDecision 生成前写入判定出的模式与坏味类型
func (c *Controller) RecordDecision(ctx context.Context, identifier string, mode ledger.Mode, smellTypes []string) error {
	_, err := c.ledger.Update(ctx, identifier, func(rec *ledger.FileRecord) error {
		if rec.Status != ledger.StatusInProgress {
			return fmt.Errorf("%w: record decision on %s record %s", ErrInvalidTransition, rec.Status, identifier)
		}
		rec.ModeDecided = mode
		rec.SmellTypes = append([]string(nil), smellTypes...)
		return nil
	})
	return err
}

// FinishOption 终结时随状态迁移一起落盘的附加变更
type FinishOption func(*finish)

type finish struct {
	tally      ledger.TallyFunc
	handoff    bool
	handoffRef string
	handoffErr error
}

// WithTally 计数增量与迁移同一次落盘
func WithTally(fn ledger.TallyFunc) FinishOption {
	return func(f *finish) { f.tally = fn }
}

// WithHandoff 写入 sink 返回的引用或错误
func WithHandoff(ref string, err error) FinishOption {
	return func(f *finish) {
		f.handoff = true
		f.handoffRef = ref
		f.handoffErr = err
	}
}

func (c *Controller) finishOpts(opts []FinishOption) finish {
	var f finish
	for _, o := range opts {
		o(&f)
	}
	return f
}

// Succeed InProgress → Completed；mode 为最终模式，判定模式保持不变
func (c *Controller) Succeed(ctx context.Context, identifier string, mode ledger.Mode, opts ...FinishOption) (ledger.FileRecord, error) {
	now := c.now().UTC()
	f := c.finishOpts(opts)
	rec, err := c.transition(ctx, identifier, ledger.StatusCompleted, func(rec *ledger.FileRecord) {
		if rec.ModeDecided == ledger.ModeNone {
			rec.ModeDecided = mode
		}
		rec.ModeFinal = mode
		rec.LastAttemptAt = &now
		done := now
		rec.CompletedAt = &done
		rec.LastError = nil
		if f.handoff {
			c.applyHandoff(rec, f)
		}
	}, f.tally)
	if err == nil {
		metrics.RecordsFinalized.WithLabelValues(string(ledger.StatusCompleted), string(mode)).Inc()
	}
	return rec, err
}

// Fail InProgress → Failed（attempt+1、追加错误历史）；达到 MaxRetries 时 → PermanentlyFailed
func (c *Controller) Fail(ctx context.Context, identifier string, cause error, opts ...FinishOption) (ledger.FileRecord, error) {
	now := c.now().UTC()
	f := c.finishOpts(opts)
	kind := perrors.KindOf(cause)
	msg := ""
	if cause != nil {
		msg = c.redactor.Redact(cause.Error())
	}
	var final ledger.Status
	rec, err := c.ledger.Commit(ctx, identifier, func(rec *ledger.FileRecord) error {
		next := rec.AttemptCount + 1
		final = ledger.StatusFailed
		if next >= c.policy.MaxRetries {
			next = c.policy.MaxRetries
			final = ledger.StatusPermanentlyFailed
		}
		if err := ValidateTransition(identifier, rec.Status, final); err != nil {
			return err
		}
		rec.AttemptCount = next
		rec.LastAttemptAt = &now
		rec.AppendError(ledger.ErrorDescriptor{Kind: kind, Message: msg, At: now}, c.policy.HistoryLimit)
		rec.Status = final
		return nil
	}, f.tally)
	if err == nil {
		metrics.AttemptFailures.WithLabelValues(string(kind)).Inc()
		metrics.RecordsFinalized.WithLabelValues(string(final), string(rec.ModeDecided)).Inc()
	}
	return rec, err
}

// MarkClean InProgress → Skipped，worker 判定无坏味时使用
func (c *Controller) MarkClean(ctx context.Context, identifier string, opts ...FinishOption) (ledger.FileRecord, error) {
	now := c.now().UTC()
	f := c.finishOpts(opts)
	rec, err := c.ledger.Commit(ctx, identifier, func(rec *ledger.FileRecord) error {
		if rec.Status != ledger.StatusInProgress {
			return fmt.Errorf("%w: mark clean on %s record %s", ErrInvalidTransition, rec.Status, identifier)
		}
		rec.Status = ledger.StatusSkipped
		rec.ModeDecided = ledger.ModeNone
		rec.LastAttemptAt = &now
		rec.CompletedAt = &now
		rec.LastError = nil
		return nil
	}, f.tally)
	if err == nil {
		metrics.RecordsFinalized.WithLabelValues(string(ledger.StatusSkipped), "").Inc()
	}
	return rec, err
}

// Skip 运维覆盖：非在途状态 → Skipped；InProgress 时返回 ledger.ErrInFlight
func (c *Controller) Skip(ctx context.Context, identifier string) (ledger.FileRecord, error) {
	now := c.now().UTC()
	rec, err := c.ledger.Update(ctx, identifier, func(rec *ledger.FileRecord) error {
		if rec.Status == ledger.StatusInProgress {
			return fmt.Errorf("skip %s: %w", identifier, ledger.ErrInFlight)
		}
		if err := ValidateTransition(identifier, rec.Status, ledger.StatusSkipped); err != nil {
			return err
		}
		rec.Status = ledger.StatusSkipped
		rec.ModeDecided = ledger.ModeNone
		rec.ModeFinal = ledger.ModeNone
		rec.CompletedAt = &now
		return nil
	})
	if err == nil {
		metrics.RecordsFinalized.WithLabelValues(string(ledger.StatusSkipped), "").Inc()
	}
	return rec, err
}

func (c *Controller) applyHandoff(rec *ledger.FileRecord, f finish) {
	rec.HandoffRef = f.handoffRef
	rec.HandoffError = ""
	if f.handoffErr != nil {
		rec.HandoffError = c.redactor.Redact(f.handoffErr.Error())
	}
}

func (c *Controller) transition(ctx context.Context, identifier string, to ledger.Status, mutate func(*ledger.FileRecord), tally ledger.TallyFunc) (ledger.FileRecord, error) {
	return c.ledger.Commit(ctx, identifier, func(rec *ledger.FileRecord) error {
		if err := ValidateTransition(identifier, rec.Status, to); err != nil {
			return err
		}
		rec.Status = to
		mutate(rec)
		return nil
	}, tally)
}
