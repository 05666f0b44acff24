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
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// DocumentVersion 当前文档版本
const DocumentVersion = "1.1"

// RunEntry 一次 run 的起止与产出
type RunEntry struct {
	RunID          string     `json:"run_id"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FilesProcessed int        `json:"files_processed"`
	Handoffs       int        `json:"handoffs"`
	Result         string     `json:"result,omitempty"`

	extra map[string]json.RawMessage
}

func (r RunEntry) clone() RunEntry {
	out := r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	out.extra = cloneExtra(r.extra)
	return out
}

// MarshalJSON 合并未知字段
func (r RunEntry) MarshalJSON() ([]byte, error) {
	type plain RunEntry
	return marshalWithExtra(plain(r), r.extra)
}

// UnmarshalJSON 保留未识别字段
func (r *RunEntry) UnmarshalJSON(b []byte) error {
	type plain RunEntry
	var p plain
	extra, err := unmarshalWithExtra(b, &p)
	if err != nil {
		return err
	}
	*r = RunEntry(p)
	r.extra = extra
	return nil
}

// Counters run 级累计计数
type Counters struct {
	TotalScanned      int            `json:"total_scanned"`
	TotalCompleted    int            `json:"total_completed"`
	TotalFailed       int            `json:"total_failed"`
	TotalSkipped      int            `json:"total_skipped"`
	PermanentlyFailed int            `json:"permanently_failed"`
	FixRefactorings   int            `json:"code_refactorings"`
	SuggestOnly       int            `json:"comment_only_refactorings"`
	Handoffs          int            `json:"prs_created"`
	QuotaUsage        int            `json:"api_calls"`
	SmellsByType      map[string]int `json:"smells_by_type,omitempty"`
	SmellsBySeverity  map[string]int `json:"smells_by_severity,omitempty"`
	ProcessingSeconds float64        `json:"total_processing_time"`

	extra map[string]json.RawMessage
}

func (c Counters) clone() Counters {
	out := c
	out.SmellsByType = cloneCounts(c.SmellsByType)
	out.SmellsBySeverity = cloneCounts(c.SmellsBySeverity)
	out.extra = cloneExtra(c.extra)
	return out
}

// MarshalJSON 合并未知字段
func (c Counters) MarshalJSON() ([]byte, error) {
	type plain Counters
	return marshalWithExtra(plain(c), c.extra)
}

// UnmarshalJSON 保留未识别字段
func (c *Counters) UnmarshalJSON(b []byte) error {
	type plain Counters
	var p plain
	extra, err := unmarshalWithExtra(b, &p)
	if err != nil {
		return err
	}
	*c = Counters(p)
	c.extra = extra
	return nil
}

// Document 持久化的完整账本文档
type Document struct {
	Version     string                 `json:"version"`
	CreatedAt   time.Time              `json:"created_at"`
	LastUpdated time.Time              `json:"last_updated"`
	Runs        []RunEntry             `json:"runs"`
	Files       map[string]*FileRecord `json:"files"`
	Counters    Counters               `json:"statistics"`

	extra map[string]json.RawMessage
}

func newDocument(now time.Time) *Document {
	return &Document{
		Version:     DocumentVersion,
		CreatedAt:   now,
		LastUpdated: now,
		Runs:        []RunEntry{},
		Files:       map[string]*FileRecord{},
	}
}

// MarshalJSON 合并未知字段
func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	return marshalWithExtra(plain(d), d.extra)
}

// UnmarshalJSON 保留未识别字段
func (d *Document) UnmarshalJSON(b []byte) error {
	type plain Document
	var p plain
	extra, err := unmarshalWithExtra(b, &p)
	if err != nil {
		return err
	}
	*d = Document(p)
	d.extra = extra
	if d.Files == nil {
		d.Files = map[string]*FileRecord{}
	}
	return nil
}

var knownFieldsCache sync.Map // reflect.Type -> map[string]struct{}

// knownFields 结构体 json tag 名集合
func knownFields(t reflect.Type) map[string]struct{} {
	if v, ok := knownFieldsCache.Load(t); ok {
		return v.(map[string]struct{})
	}
	fields := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields[name] = struct{}{}
	}
	knownFieldsCache.Store(t, fields)
	return fields
}

func unmarshalWithExtra(b []byte, dst any) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(b, dst); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	known := knownFields(reflect.TypeOf(dst).Elem())
	for k := range raw {
		if _, ok := known[k]; ok {
			delete(raw, k)
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = raw
		}
	}
	return json.Marshal(merged)
}

func cloneExtra(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sortedIDs 稳定输出顺序
func sortedIDs(files map[string]*FileRecord) []string {
	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
