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

package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Window 滑动窗口记账：记录近期 acquire 的时间戳，按最早可用时间而非整分钟重置放行
type Window interface {
	// Reserve 在 now 时刻尝试记入 cost 次调用；容量不足时返回最早可再次尝试的时间
	Reserve(ctx context.Context, now time.Time, cost int) (ok bool, retryAt time.Time, err error)
	// InFlight 当前窗口内已记入的调用数
	InFlight(ctx context.Context, now time.Time) (int, error)
	// Size 窗口长度与容量
	Size() (time.Duration, int)
}

// MemoryWindow 进程内窗口，重启即遗忘
type MemoryWindow struct {
	mu     sync.Mutex
	size   time.Duration
	limit  int
	stamps []time.Time // 升序
}

// NewMemoryWindow 创建进程内窗口
func NewMemoryWindow(size time.Duration, limit int) *MemoryWindow {
	return &MemoryWindow{size: size, limit: limit}
}

func (w *MemoryWindow) Size() (time.Duration, int) { return w.size, w.limit }

func (w *MemoryWindow) Reserve(ctx context.Context, now time.Time, cost int) (bool, time.Time, error) {
	if cost > w.limit {
		return false, time.Time{}, fmt.Errorf("cost %d exceeds window capacity %d", cost, w.limit)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// 并发调用方的 now 可能乱序，保持时间戳单调
	if n := len(w.stamps); n > 0 && now.Before(w.stamps[n-1]) {
		now = w.stamps[n-1]
	}
	w.prune(now)
	if len(w.stamps)+cost <= w.limit {
		for i := 0; i < cost; i++ {
			w.stamps = append(w.stamps, now)
		}
		return true, time.Time{}, nil
	}
	// 需要有 len+cost-limit 条记录过期，第 (len+cost-limit) 条的过期时间即最早可用时间
	idx := len(w.stamps) + cost - w.limit - 1
	return false, w.stamps[idx].Add(w.size), nil
}

func (w *MemoryWindow) InFlight(ctx context.Context, now time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return len(w.stamps), nil
}

func (w *MemoryWindow) prune(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
