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

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/metrics"
	"refactor-pipeline/pkg/retention"
)

// ErrInFlight 记录正被 worker 处理，运维操作须等待其终结
var ErrInFlight = errors.New("record is in progress")

// TallyFunc 计数增量；rec 为本次变更后的记录
type TallyFunc func(rec FileRecord, ct *Counters)

// RunStats 账本聚合视图
type RunStats struct {
	Total             int            `json:"total"`
	ByStatus          map[Status]int `json:"by_status"`
	CompletedFix      int            `json:"completed_fix"`
	CompletedSuggest  int            `json:"completed_suggest"`
	FailedWillRetry   int            `json:"failed_will_retry"`
	PermanentlyFailed int            `json:"permanently_failed"`
	Counters          Counters       `json:"counters"`
	Runs              int            `json:"runs"`
	LastRun           *RunEntry      `json:"last_run,omitempty"`
}

// Ledger 持久化运行账本：所有读写经由此类型，每次变更整体序列化后原子替换
type Ledger struct {
	mu           sync.Mutex
	store        Store
	doc          *Document
	historyLimit int
	maxAttempts  int
	runRetention retention.Policy
	now          func() time.Time
}

// Option Ledger 可选项
type Option func(*Ledger)

// WithHistoryLimit error_history 上限
func WithHistoryLimit(n int) Option {
	return func(l *Ledger) { l.historyLimit = n }
}

// WithMaxAttempts 崩溃恢复时 attempt_count 的上限
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) { l.maxAttempts = n }
}

// WithRunRetention 每次 BeginRun 时按策略裁剪 run 历史
func WithRunRetention(p retention.Policy) Option {
	return func(l *Ledger) { l.runRetention = p }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New 创建未加载的账本
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, historyLimit: 10, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Open 创建并加载
func Open(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	l := New(store, opts...)
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Load 读取快照；快照存在但无法反序列化时返回 CorruptStateError。
// 上次进程遗留的 InProgress 记录视为崩溃产物，转为 Failed 并计一次尝试。
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.store.Load(ctx)
	if err != nil {
		return perrors.CorruptState("ledger.load", "read snapshot from "+l.store.Backend(), err)
	}
	now := l.now().UTC()
	if len(data) == 0 {
		l.doc = newDocument(now)
		return nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return perrors.CorruptState("ledger.load", "decode snapshot", err)
	}
	for id, rec := range doc.Files {
		if rec == nil {
			return perrors.CorruptState("ledger.load", fmt.Sprintf("null record %q", id), nil)
		}
		if rec.Identifier == "" {
			rec.Identifier = id
		}
	}
	l.doc = &doc

	recovered := false
	for _, id := range sortedIDs(doc.Files) {
		rec := doc.Files[id]
		if rec.Status != StatusInProgress {
			continue
		}
		l.recoverInterrupted(rec, now)
		recovered = true
	}
	if recovered {
		return l.flushLocked(ctx)
	}
	return nil
}

func (l *Ledger) recoverInterrupted(rec *FileRecord, now time.Time) {
	rec.AttemptCount++
	if l.maxAttempts > 0 && rec.AttemptCount > l.maxAttempts {
		rec.AttemptCount = l.maxAttempts
	}
	t := now
	rec.LastAttemptAt = &t
	rec.AppendError(ErrorDescriptor{
		Kind:    perrors.KindInterrupted,
		Message: "process exited while attempt was in progress",
		At:      now,
	}, l.historyLimit)
	rec.Status = StatusFailed
	if l.maxAttempts > 0 && rec.AttemptCount >= l.maxAttempts {
		rec.Status = StatusPermanentlyFailed
	}
}

// Get 返回记录副本
func (l *Ledger) Get(identifier string) (FileRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	rec, ok := l.doc.Files[identifier]
	if !ok {
		return FileRecord{}, false
	}
	return rec.Clone(), true
}

// Records 全部记录副本，按 identifier 排序
func (l *Ledger) Records() []FileRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	out := make([]FileRecord, 0, len(l.doc.Files))
	for _, id := range sortedIDs(l.doc.Files) {
		out = append(out, l.doc.Files[id].Clone())
	}
	return out
}

// Upsert 写入整条记录并落盘；落盘失败时内存保持旧状态
func (l *Ledger) Upsert(ctx context.Context, rec FileRecord) error {
	if rec.Identifier == "" {
		return fmt.Errorf("ledger upsert: %w: empty identifier", perrors.ErrInvalidArg)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	next := rec.Clone()
	return l.swapLocked(ctx, rec.Identifier, &next)
}

// Update 在锁内读取-修改-写回单条记录（check-and-set）。
// fn 返回错误时不做任何修改；返回 ErrNotFound 表示记录不存在。
func (l *Ledger) Update(ctx context.Context, identifier string, fn func(*FileRecord) error) (FileRecord, error) {
	return l.Commit(ctx, identifier, fn, nil)
}

// Commit 同 Update，并把 tally 的计数增量与记录变更合并为一次落盘；落盘失败时两者一起回滚
func (l *Ledger) Commit(ctx context.Context, identifier string, fn func(*FileRecord) error, tally TallyFunc) (FileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	cur, ok := l.doc.Files[identifier]
	if !ok {
		return FileRecord{}, fmt.Errorf("ledger update %s: %w", identifier, perrors.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur.Clone(), err
	}
	next.Identifier = identifier
	prevCounters := l.doc.Counters.clone()
	if tally != nil {
		tally(next.Clone(), &l.doc.Counters)
	}
	if err := l.swapLocked(ctx, identifier, &next); err != nil {
		l.doc.Counters = prevCounters
		return cur.Clone(), err
	}
	return next.Clone(), nil
}

// EnsurePending 候选合入账本：新 identifier 以 Pending 创建；返回是否新建
func (l *Ledger) EnsurePending(ctx context.Context, identifier, contentHash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	if _, ok := l.doc.Files[identifier]; ok {
		return false, nil
	}
	rec := NewRecord(identifier, contentHash)
	prevCounters := l.doc.Counters.clone()
	l.doc.Counters.TotalScanned++
	if err := l.swapLocked(ctx, identifier, &rec); err != nil {
		l.doc.Counters = prevCounters
		return false, err
	}
	return true, nil
}

// Tally 修改累计计数并落盘
func (l *Ledger) Tally(ctx context.Context, fn func(*Counters)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	prev := l.doc.Counters.clone()
	fn(&l.doc.Counters)
	if err := l.flushLocked(ctx); err != nil {
		l.doc.Counters = prev
		return err
	}
	return nil
}

// Runs run 历史副本，按开始顺序
func (l *Ledger) Runs() []RunEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	out := make([]RunEntry, len(l.doc.Runs))
	for i, r := range l.doc.Runs {
		out[i] = r.clone()
	}
	return out
}

// BeginRun 追加 run 记录
func (l *Ledger) BeginRun(ctx context.Context, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	prev := l.doc.Runs
	now := l.now().UTC()
	runs := append(append([]RunEntry(nil), prev...), RunEntry{RunID: runID, StartedAt: now})
	l.doc.Runs = retention.Prune(runs, l.runRetention, now, func(r RunEntry) time.Time { return r.StartedAt })
	if err := l.flushLocked(ctx); err != nil {
		l.doc.Runs = prev
		return err
	}
	return nil
}

// EndRun 结束 run 记录
func (l *Ledger) EndRun(ctx context.Context, runID string, processed, handoffs int, result string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	prev := l.doc.Runs
	runs := append([]RunEntry(nil), prev...)
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].RunID != runID {
			continue
		}
		t := l.now().UTC()
		runs[i].CompletedAt = &t
		runs[i].FilesProcessed = processed
		runs[i].Handoffs = handoffs
		runs[i].Result = result
		break
	}
	l.doc.Runs = runs
	if err := l.flushLocked(ctx); err != nil {
		l.doc.Runs = prev
		return err
	}
	return nil
}

// Reset 将记录重置为 Pending（运维显式操作）；identifier 为空时重置全部。
// 指定的记录处于 InProgress 时返回 ErrInFlight；重置全部时跳过在途记录。
func (l *Ledger) Reset(ctx context.Context, identifier string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	if identifier != "" {
		rec, ok := l.doc.Files[identifier]
		if !ok {
			return 0, fmt.Errorf("ledger reset %s: %w", identifier, perrors.ErrNotFound)
		}
		if rec.Status == StatusInProgress {
			return 0, fmt.Errorf("ledger reset %s: %w", identifier, ErrInFlight)
		}
	}
	prev := make(map[string]*FileRecord, len(l.doc.Files))
	for id, rec := range l.doc.Files {
		prev[id] = rec
	}
	n := 0
	for id, rec := range l.doc.Files {
		if identifier != "" && id != identifier {
			continue
		}
		if rec.Status == StatusInProgress {
			continue
		}
		fresh := NewRecord(id, rec.ContentHash)
		fresh.extra = cloneExtra(rec.extra)
		l.doc.Files[id] = &fresh
		n++
	}
	if err := l.flushLocked(ctx); err != nil {
		l.doc.Files = prev
		return 0, err
	}
	return n, nil
}

// Requeue 内容变化的记录以新摘要重新排队，一次落盘
func (l *Ledger) Requeue(ctx context.Context, identifier, contentHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	rec, ok := l.doc.Files[identifier]
	if !ok {
		return fmt.Errorf("ledger requeue %s: %w", identifier, perrors.ErrNotFound)
	}
	if rec.Status == StatusInProgress {
		return fmt.Errorf("ledger requeue %s: %w", identifier, ErrInFlight)
	}
	fresh := NewRecord(identifier, contentHash)
	fresh.extra = cloneExtra(rec.extra)
	return l.swapLocked(ctx, identifier, &fresh)
}

// SnapshotStats 聚合计数
func (l *Ledger) SnapshotStats() RunStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureDoc()
	stats := RunStats{
		Total:    len(l.doc.Files),
		ByStatus: map[Status]int{},
		Counters: l.doc.Counters.clone(),
		Runs:     len(l.doc.Runs),
	}
	for _, rec := range l.doc.Files {
		stats.ByStatus[rec.Status]++
		switch rec.Status {
		case StatusCompleted:
			switch rec.EffectiveMode() {
			case ModeFix:
				stats.CompletedFix++
			case ModeSuggest:
				stats.CompletedSuggest++
			}
		case StatusFailed:
			stats.FailedWillRetry++
		case StatusPermanentlyFailed:
			stats.PermanentlyFailed++
		}
	}
	if n := len(l.doc.Runs); n > 0 {
		last := l.doc.Runs[n-1].clone()
		stats.LastRun = &last
	}
	return stats
}

// Backend 底层存储名
func (l *Ledger) Backend() string {
	return l.store.Backend()
}

func (l *Ledger) ensureDoc() {
	if l.doc == nil {
		l.doc = newDocument(l.now().UTC())
	}
}

// swapLocked 替换一条记录并落盘，失败时回滚该记录
func (l *Ledger) swapLocked(ctx context.Context, identifier string, next *FileRecord) error {
	prev, existed := l.doc.Files[identifier]
	l.doc.Files[identifier] = next
	if err := l.flushLocked(ctx); err != nil {
		if existed {
			l.doc.Files[identifier] = prev
		} else {
			delete(l.doc.Files, identifier)
		}
		return err
	}
	return nil
}

// flushLocked 整体序列化后交给 Store 原子替换
func (l *Ledger) flushLocked(ctx context.Context) error {
	start := time.Now()
	prevUpdated := l.doc.LastUpdated
	l.doc.LastUpdated = l.now().UTC()
	data, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		l.doc.LastUpdated = prevUpdated
		return fmt.Errorf("ledger encode: %w", err)
	}
	if err := l.store.Save(ctx, data); err != nil {
		l.doc.LastUpdated = prevUpdated
		return fmt.Errorf("ledger save (%s): %w", l.store.Backend(), err)
	}
	metrics.LedgerFlushSeconds.WithLabelValues(l.store.Backend()).Observe(time.Since(start).Seconds())
	return nil
}
