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

// Package sink 接收进入终态的记录产物：本地报告目录、GitHub 分支与 PR
package sink

import (
	"context"
	"errors"
	"strings"

	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/pkg/metrics"
)

// Artifact 交付内容；Body 为重构后代码或建议文档
type Artifact struct {
	Body     string `json:"body"`
	Original string `json:"original,omitempty"`
}

// Handoff 交付载荷 {identifier, mode, artifact, smell_summary}
type Handoff struct {
	Identifier   string      `json:"identifier"`
	Mode         ledger.Mode `json:"mode"`
	Artifact     Artifact    `json:"artifact"`
	SmellSummary string      `json:"smell_summary"`
	SmellTypes   []string    `json:"smell_types,omitempty"`
}

// Sink 交付目标
type Sink interface {
	Name() string
	// Deliver 返回可追溯的引用（PR URL、报告目录）
	Deliver(ctx context.Context, h Handoff) (string, error)
}

// Multi 依次交付到多个 sink；部分失败时返回已成功的引用与合并后的错误
type Multi struct {
	sinks []Sink
}

// NewMulti 忽略 nil
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Name 实现 Sink
func (m *Multi) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Len sink 数
func (m *Multi) Len() int { return len(m.sinks) }

// Deliver 实现 Sink
func (m *Multi) Deliver(ctx context.Context, h Handoff) (string, error) {
	var refs []string
	var errs []error
	for _, s := range m.sinks {
		ref, err := s.Deliver(ctx, h)
		if err != nil {
			metrics.HandoffTotal.WithLabelValues(s.Name(), "error").Inc()
			errs = append(errs, err)
			continue
		}
		metrics.HandoffTotal.WithLabelValues(s.Name(), "ok").Inc()
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return strings.Join(refs, " "), errors.Join(errs...)
}

// Discard 丢弃交付，未配置任何 sink 时使用
type Discard struct{}

// Name 实现 Sink
func (Discard) Name() string { return "discard" }

// Deliver 实现 Sink
func (Discard) Deliver(context.Context, Handoff) (string, error) { return "", nil }
