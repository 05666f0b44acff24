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

// Package retention 按条数与年龄裁剪历史条目（账本中的 run 历史）。
package retention

import (
	"sort"
	"time"
)

// Policy 保留策略；零值表示不裁剪
type Policy struct {
	// KeepLast 最多保留最近的条目数，0 表示不限
	KeepLast int `json:"keep_last" yaml:"keep_last"`
	// MaxAge 超过此年龄的条目被丢弃，0 表示不限
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`
}

// Enabled 是否有任何限制
func (p Policy) Enabled() bool {
	return p.KeepLast > 0 || p.MaxAge > 0
}

// Prune 返回按策略保留下来的条目，保持原有顺序；at 给出条目的时间戳。
// 最新的一条始终保留。
func Prune[T any](items []T, p Policy, now time.Time, at func(T) time.Time) []T {
	if !p.Enabled() || len(items) == 0 {
		return items
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	// 新的在前
	sort.SliceStable(idx, func(a, b int) bool { return at(items[idx[a]]).After(at(items[idx[b]])) })

	keep := make(map[int]bool, len(items))
	for rank, i := range idx {
		if rank == 0 {
			keep[i] = true
			continue
		}
		if p.KeepLast > 0 && rank >= p.KeepLast {
			break
		}
		if p.MaxAge > 0 && now.Sub(at(items[i])) > p.MaxAge {
			continue
		}
		keep[i] = true
	}
	if len(keep) == len(items) {
		return items
	}
	out := make([]T, 0, len(keep))
	for i, it := range items {
		if keep[i] {
			out = append(out, it)
		}
	}
	return out
}
