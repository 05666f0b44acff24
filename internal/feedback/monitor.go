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

// Package feedback 跟进已交付 PR 的评审意见：拉取新评论，按意见改写 PR 中的文件并推回同一分支，
// 迭代次数与 PR 状态记录在账本对应记录上。
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"refactor-pipeline/internal/inference"
	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/sink"
	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/log"
	"refactor-pipeline/pkg/metrics"
	"refactor-pipeline/pkg/redaction"
)

// Marker 写在自身评论里，轮询时据此跳过
const Marker = "<!-- refactor-pipeline:revision -->"

// PullRequests PR 读写能力
type PullRequests interface {
	PullState(ctx context.Context, number int) (sink.PullState, error)
	Comments(ctx context.Context, number int, sinceID int64) ([]sink.ReviewComment, error)
	PullFiles(ctx context.Context, number int) ([]string, error)
	FileAt(ctx context.Context, path, ref string) (content, sha string, err error)
	UpdateFile(ctx context.Context, branch, path, sha, message, content string) error
	Comment(ctx context.Context, number int, body string) (int64, error)
}

// Reviser 按评审意见改写文件
type Reviser interface {
	Revise(ctx context.Context, req inference.RevisionRequest) (string, error)
}

// Config 轮询参数
type Config struct {
	MaxIterations int
	Interval      time.Duration
}

// Result 一次轮询的汇总
type Result struct {
	Checked int `json:"checked"`
	Revised int `json:"revised"`
	Closed  int `json:"closed"`
	Errors  int `json:"errors"`
}

// Monitor PR 评审跟进
type Monitor struct {
	ledger   *ledger.Ledger
	prs      PullRequests
	reviser  Reviser
	cfg      Config
	logger   *log.Logger
	redactor *redaction.Redactor
	now      func() time.Time
}

var errStale = errors.New("record no longer tracks this pull request")

// NewMonitor 创建 Monitor
func NewMonitor(l *ledger.Ledger, prs PullRequests, reviser Reviser, cfg Config, logger *log.Logger) *Monitor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Monitor{ledger: l, prs: prs, reviser: reviser, cfg: cfg, logger: logger, now: time.Now}
}

// WithClock 注入时钟（测试用）
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// WithRedactor 写入账本的错误消息先脱敏
func (m *Monitor) WithRedactor(r *redaction.Redactor) *Monitor {
	m.redactor = r
	return m
}

// Run 立即轮询一次，之后每个 Interval 轮询；ctx 取消或致命错误时返回
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		res, err := m.Poll(ctx)
		if err != nil {
			return err
		}
		m.logger.Info("feedback poll finished",
			slog.Int("checked", res.Checked),
			slog.Int("revised", res.Revised),
			slog.Int("closed", res.Closed),
			slog.Int("errors", res.Errors))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll 检查所有已交付且仍在跟进的 PR
func (m *Monitor) Poll(ctx context.Context) (Result, error) {
	var res Result
	for _, rec := range m.ledger.Records() {
		if rec.Status != ledger.StatusCompleted || rec.HandoffRef == "" || rec.Feedback.Done() {
			continue
		}
		number, ok := sink.PRNumber(rec.HandoffRef)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		flog := m.logger.With(slog.String("file", rec.Identifier), slog.Int("pr", number))

		fb, calls, revised, err := m.check(ctx, flog, rec, number)
		result := pollResult(fb, revised)
		if err != nil {
			if perrors.IsFatal(err) {
				metrics.FeedbackPolls.WithLabelValues("error").Inc()
				return res, err
			}
			res.Errors++
			result = "error"
			fb.LastError = m.redactor.Redact(err.Error())
			flog.Warn("feedback poll failed", slog.String("error", err.Error()))
		}
		if revised {
			res.Revised++
		}
		if fb.State == ledger.FeedbackMerged || fb.State == ledger.FeedbackClosed {
			res.Closed++
		}
		metrics.FeedbackPolls.WithLabelValues(result).Inc()
		if err := m.save(ctx, rec, fb, calls); err != nil {
			if errors.Is(err, errStale) {
				flog.Debug("record changed during poll, result dropped")
				continue
			}
			return res, perrors.CorruptState("feedback.save", rec.Identifier, err)
		}
	}
	return res, nil
}

// check 返回新的跟进状态、消耗的推理调用数以及本轮是否推送了修订
func (m *Monitor) check(ctx context.Context, flog *log.Logger, rec ledger.FileRecord, number int) (ledger.FeedbackState, int, bool, error) {
	fb := ledger.FeedbackState{PRNumber: number, State: ledger.FeedbackOpen}
	if rec.Feedback != nil {
		fb = *rec.Feedback
		fb.PRNumber = number
	}
	now := m.now().UTC()
	fb.LastCheckedAt = &now
	fb.LastError = ""

	st, err := m.prs.PullState(ctx, number)
	if err != nil {
		return fb, 0, false, err
	}
	if st.State == "closed" {
		fb.State = ledger.FeedbackClosed
		if st.Merged {
			fb.State = ledger.FeedbackMerged
		}
		flog.Info("pull request closed", slog.String("state", fb.State))
		return fb, 0, false, nil
	}
	if fb.Iterations >= m.cfg.MaxIterations {
		fb.State = ledger.FeedbackExhausted
		flog.Info("revision limit reached", slog.Int("iterations", fb.Iterations))
		return fb, 0, false, nil
	}

	comments, err := m.prs.Comments(ctx, number, fb.LastCommentID)
	if err != nil {
		return fb, 0, false, err
	}
	var notes []string
	for _, c := range comments {
		if c.ID > fb.LastCommentID {
			fb.LastCommentID = c.ID
		}
		if strings.Contains(c.Body, Marker) {
			continue
		}
		notes = append(notes, formatNote(c))
	}
	if len(notes) == 0 {
		return fb, 0, false, nil
	}
	flog.Info("new review feedback", slog.Int("comments", len(notes)))

	files, err := m.prs.PullFiles(ctx, number)
	if err != nil {
		return fb, 0, false, err
	}
	iteration := fb.Iterations + 1
	calls := 0
	var updated []string
	for _, path := range files {
		content, sha, err := m.prs.FileAt(ctx, path, st.HeadRef)
		if err != nil {
			if perrors.IsFatal(err) {
				return fb, calls, false, err
			}
			flog.Warn("read file failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		calls++
		revised, err := m.reviser.Revise(ctx, inference.RevisionRequest{Path: path, Content: content, Feedback: notes})
		if err != nil {
			if perrors.IsFatal(err) {
				return fb, calls, false, err
			}
			flog.Warn("revise failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if revised == strings.TrimSpace(content) {
			continue
		}
		msg := fmt.Sprintf("Revision %d: Address reviewer feedback", iteration)
		if err := m.prs.UpdateFile(ctx, st.HeadRef, path, sha, msg, revised); err != nil {
			if perrors.IsFatal(err) {
				return fb, calls, false, err
			}
			flog.Warn("update file failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		updated = append(updated, path)
	}
	if len(updated) == 0 {
		fb.LastError = "feedback received but no file was revised"
		return fb, calls, false, nil
	}

	fb.Iterations = iteration
	id, err := m.prs.Comment(ctx, number, revisionComment(iteration, updated))
	if err != nil {
		flog.Warn("revision comment failed", slog.String("error", err.Error()))
	} else if id > fb.LastCommentID {
		fb.LastCommentID = id
	}
	flog.Info("revision pushed", slog.Int("iteration", iteration), slog.Int("files", len(updated)))
	return fb, calls, true, nil
}

// save 跟进状态与推理调用计数一次落盘；记录已被重置或改投时放弃
func (m *Monitor) save(ctx context.Context, rec ledger.FileRecord, fb ledger.FeedbackState, calls int) error {
	_, err := m.ledger.Commit(ctx, rec.Identifier, func(r *ledger.FileRecord) error {
		if r.Status != ledger.StatusCompleted || r.HandoffRef != rec.HandoffRef {
			return errStale
		}
		r.Feedback = &fb
		return nil
	}, func(_ ledger.FileRecord, ct *ledger.Counters) {
		ct.QuotaUsage += calls
	})
	return err
}

func pollResult(fb ledger.FeedbackState, revised bool) string {
	switch {
	case revised:
		return "revised"
	case fb.State != ledger.FeedbackOpen:
		return fb.State
	}
	return "idle"
}

func formatNote(c sink.ReviewComment) string {
	note := fmt.Sprintf("[%s] %s", c.Author, strings.TrimSpace(c.Body))
	if c.Path != "" && c.Line > 0 {
		note += fmt.Sprintf(" (line %d in %s)", c.Line, c.Path)
	}
	return note
}

func revisionComment(iteration int, files []string) string {
	var b strings.Builder
	b.WriteString(Marker + "\n")
	fmt.Fprintf(&b, "**Automated Revision Applied (Iteration %d)**\n\n", iteration)
	b.WriteString("The following files were updated to address the review feedback:\n\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	b.WriteString("\nPlease re-review when convenient.\n")
	return b.String()
}
