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
	"encoding/json"
	"time"

	perrors "refactor-pipeline/pkg/errors"
)

// Status 文件记录状态
type Status string

const (
	StatusPending           Status = "pending"
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
	StatusSkipped           Status = "skipped"
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "InProgress"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusPermanentlyFailed:
		return "PermanentlyFailed"
	case StatusSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Terminal Completed / PermanentlyFailed / Skipped 不再被调度
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPermanentlyFailed || s == StatusSkipped
}

// Mode 判定出的修复模式
type Mode string

const (
	ModeNone    Mode = ""
	ModeFix     Mode = "fix"
	ModeSuggest Mode = "suggest"
)

func (m Mode) String() string {
	switch m {
	case ModeFix:
		return "Fix"
	case ModeSuggest:
		return "Suggest"
	default:
		return "-"
	}
}

// ErrorDescriptor 一次失败的类别与消息
type ErrorDescriptor struct {
	Kind    perrors.Kind `json:"kind"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

// FileRecord 单个候选文件的处理记录，按 Identifier 唯一
type FileRecord struct {
	Identifier    string            `json:"identifier"`
	Status        Status            `json:"status"`
	AttemptCount  int               `json:"attempt_count"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	LastError     *ErrorDescriptor  `json:"last_error,omitempty"`
	// ModeDecided 生成前的判定，每次尝试写入一次
	ModeDecided Mode `json:"mode_decided,omitempty"`
	// ModeFinal 成功时结合生成产物得出的最终模式；与 ModeDecided 不同即为降级
	ModeFinal    Mode              `json:"mode_final,omitempty"`
	ErrorHistory []ErrorDescriptor `json:"error_history,omitempty"`
	// ContentHash 内容摘要，终态记录内容变化后重新排队
	ContentHash string     `json:"content_hash,omitempty"`
	SmellTypes  []string   `json:"smell_types,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// HandoffRef sink 返回的引用（PR URL、报告路径）
	HandoffRef   string `json:"handoff_ref,omitempty"`
	HandoffError string `json:"handoff_error,omitempty"`
	// Feedback PR 评审反馈的跟进状态
	Feedback *FeedbackState `json:"feedback,omitempty"`

	extra map[string]json.RawMessage
}

// FeedbackState 交付后 PR 的评审跟进
type FeedbackState struct {
	PRNumber      int        `json:"pr_number"`
	State         string     `json:"state"`
	Iterations    int        `json:"iterations"`
	LastCommentID int64      `json:"last_comment_id,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Feedback 跟进状态
const (
	FeedbackOpen      = "open"
	FeedbackMerged    = "merged"
	FeedbackClosed    = "closed"
	FeedbackExhausted = "exhausted"
)

// Done 不再需要轮询
func (f *FeedbackState) Done() bool {
	return f != nil && f.State != "" && f.State != FeedbackOpen
}

// EffectiveMode 最终模式；尚未完成时为判定模式
func (r FileRecord) EffectiveMode() Mode {
	if r.ModeFinal != ModeNone {
		return r.ModeFinal
	}
	return r.ModeDecided
}

// Downgraded 最终模式相对判定被降级
func (r FileRecord) Downgraded() bool {
	return r.ModeFinal != ModeNone && r.ModeDecided != ModeNone && r.ModeFinal != r.ModeDecided
}

// NewRecord 新候选以 Pending 进入账本
func NewRecord(identifier, contentHash string) FileRecord {
	return FileRecord{Identifier: identifier, Status: StatusPending, ContentHash: contentHash}
}

// Clone 深拷贝，账本对外只暴露副本
func (r FileRecord) Clone() FileRecord {
	out := r
	if r.LastAttemptAt != nil {
		t := *r.LastAttemptAt
		out.LastAttemptAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.LastError != nil {
		e := *r.LastError
		out.LastError = &e
	}
	if r.ErrorHistory != nil {
		out.ErrorHistory = append([]ErrorDescriptor(nil), r.ErrorHistory...)
	}
	if r.SmellTypes != nil {
		out.SmellTypes = append([]string(nil), r.SmellTypes...)
	}
	if r.Feedback != nil {
		fb := *r.Feedback
		if fb.LastCheckedAt != nil {
			t := *fb.LastCheckedAt
			fb.LastCheckedAt = &t
		}
		out.Feedback = &fb
	}
	out.extra = cloneExtra(r.extra)
	return out
}

// AppendError 记录失败并裁剪 error_history 到 limit 条
func (r *FileRecord) AppendError(desc ErrorDescriptor, limit int) {
	d := desc
	r.LastError = &d
	r.ErrorHistory = append(r.ErrorHistory, desc)
	if limit > 0 && len(r.ErrorHistory) > limit {
		r.ErrorHistory = append([]ErrorDescriptor(nil), r.ErrorHistory[len(r.ErrorHistory)-limit:]...)
	}
}

// MarshalJSON 合并未知字段，保证旧/新版本文档往返不丢数据
func (r FileRecord) MarshalJSON() ([]byte, error) {
	type plain FileRecord
	return marshalWithExtra(plain(r), r.extra)
}

// UnmarshalJSON 保留未识别字段
func (r *FileRecord) UnmarshalJSON(b []byte) error {
	type plain FileRecord
	var p plain
	extra, err := unmarshalWithExtra(b, &p)
	if err != nil {
		return err
	}
	*r = FileRecord(p)
	r.extra = extra
	return nil
}
