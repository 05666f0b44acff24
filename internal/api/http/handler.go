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
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/orchestrator"
	"refactor-pipeline/internal/retry"
	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/metrics"
)

// Runner 触发一次 run
type Runner interface {
	Run(ctx context.Context) (orchestrator.Summary, error)
}

// Handler 账本查询与运维操作
type Handler struct {
	ledger *ledger.Ledger
	retry  *retry.Controller

	runner  Runner
	runCtx  context.Context
	running atomic.Bool
	mu      sync.Mutex
	last    *runResult
}

type runResult struct {
	Summary    orchestrator.Summary `json:"summary"`
	Error      string               `json:"error,omitempty"`
	FinishedAt time.Time            `json:"finished_at"`
}

// NewHandler 创建 Handler
func NewHandler(l *ledger.Ledger, rc *retry.Controller) *Handler {
	return &Handler{ledger: l, retry: rc, runCtx: context.Background()}
}

// SetRunner 启用 POST /api/runs；ctx 取消时进行中的 run 随之停止
func (h *Handler) SetRunner(ctx context.Context, r Runner) {
	h.runner = r
	if ctx != nil {
		h.runCtx = ctx
	}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "refactor-pipeline",
	})
}

// Stats GET /api/ledger/stats
func (h *Handler) Stats(ctx context.Context, c *app.RequestContext) {
	if !h.ready(c) {
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"backend": h.ledger.Backend(),
		"stats":   h.ledger.SnapshotStats(),
	})
}

// ListFiles GET /api/ledger/files?status=failed
func (h *Handler) ListFiles(ctx context.Context, c *app.RequestContext) {
	if !h.ready(c) {
		return
	}
	want := c.Query("status")
	records := h.filter(func(r ledger.FileRecord) bool {
		return want == "" || string(r.Status) == want
	})
	c.JSON(consts.StatusOK, utils.H{"files": records, "total": len(records)})
}

// ListFailed GET /api/ledger/failed：待重试与永久失败
func (h *Handler) ListFailed(ctx context.Context, c *app.RequestContext) {
	if !h.ready(c) {
		return
	}
	now := time.Now()
	type failedView struct {
		ledger.FileRecord
		Retryable bool       `json:"retryable"`
		NextRetry *time.Time `json:"next_retry_at,omitempty"`
	}
	var out []failedView
	for _, r := range h.filter(func(r ledger.FileRecord) bool {
		return r.Status == ledger.StatusFailed || r.Status == ledger.StatusPermanentlyFailed
	}) {
		v := failedView{FileRecord: r}
		if h.retry != nil {
			if at, ok := h.retry.EligibleAt(r); ok {
				v.Retryable = true
				if at.After(now) {
					v.NextRetry = &at
				}
			}
		}
		out = append(out, v)
	}
	c.JSON(consts.StatusOK, utils.H{"files": out, "total": len(out)})
}

// GetFile GET /api/ledger/files/*id
func (h *Handler) GetFile(ctx context.Context, c *app.RequestContext) {
	if !h.ready(c) {
		return
	}
	id := strings.TrimPrefix(c.Param("id"), "/")
	if id == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "identifier is required"})
		return
	}
	rec, ok := h.ledger.Get(id)
	if !ok {
		c.JSON(consts.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}
	c.JSON(consts.StatusOK, rec)
}

type identifierRequest struct {
	Identifier string `json:"identifier"`
	All        bool   `json:"all"`
}

// Reset POST /api/ledger/reset {"identifier": "..."} 或 {"all": true}
func (h *Handler) Reset(ctx context.Context, c *app.RequestContext) {
	if !h.ready(c) {
		return
	}
	var req identifierRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if req.Identifier == "" && !req.All {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "identifier or all is required"})
		return
	}
	n, err := h.ledger.Reset(ctx, req.Identifier)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	hlog.CtxInfof(ctx, "ledger reset identifier=%q count=%d", req.Identifier, n)
	c.JSON(consts.StatusOK, utils.H{"reset": n})
}

// Skip POST /api/ledger/skip {"identifier": "..."}
func (h *Handler) Skip(ctx context.Context, c *app.RequestContext) {
	if !h.ready(c) {
		return
	}
	if h.retry == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "retry controller is not configured"})
		return
	}
	var req identifierRequest
	if err := c.BindJSON(&req); err != nil || req.Identifier == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "identifier is required"})
		return
	}
	rec, err := h.retry.Skip(ctx, req.Identifier)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, rec)
}

// TriggerRun POST /api/runs：后台执行一次 run，同一时间只允许一个
func (h *Handler) TriggerRun(ctx context.Context, c *app.RequestContext) {
	if h.runner == nil {
		c.JSON(consts.StatusNotImplemented, map[string]string{"error": "runs are not enabled on this server"})
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		c.JSON(consts.StatusConflict, map[string]string{"error": "a run is already in progress"})
		return
	}
	go func() {
		defer h.running.Store(false)
		sum, err := h.runner.Run(h.runCtx)
		res := &runResult{Summary: sum, FinishedAt: time.Now()}
		if err != nil {
			res.Error = err.Error()
			hlog.Errorf("triggered run failed: %v", err)
		}
		h.mu.Lock()
		h.last = res
		h.mu.Unlock()
	}()
	c.JSON(consts.StatusAccepted, map[string]string{"status": "started"})
}

// LastRun GET /api/runs/last
func (h *Handler) LastRun(ctx context.Context, c *app.RequestContext) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	c.JSON(consts.StatusOK, utils.H{"running": h.running.Load(), "last": last})
}

// Metrics GET /metrics，Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.String(consts.StatusInternalServerError, err.Error())
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

func (h *Handler) ready(c *app.RequestContext) bool {
	if h.ledger == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "ledger is not configured"})
		return false
	}
	return true
}

func (h *Handler) filter(keep func(ledger.FileRecord) bool) []ledger.FileRecord {
	out := []ledger.FileRecord{}
	for _, r := range h.ledger.Records() {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (h *Handler) writeError(ctx context.Context, c *app.RequestContext, err error) {
	switch {
	case errors.Is(err, perrors.ErrNotFound):
		c.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInFlight), errors.Is(err, retry.ErrInvalidTransition):
		c.JSON(consts.StatusConflict, map[string]string{"error": err.Error()})
	default:
		hlog.CtxErrorf(ctx, "ledger operation failed: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
