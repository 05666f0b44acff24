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
	"fmt"
	"sync"
	"time"

	perrors "refactor-pipeline/pkg/errors"
	"refactor-pipeline/pkg/metrics"
)

// KeyHandle 当前使用的凭据
type KeyHandle struct {
	Provider string
	Index    int
	secret   string
}

// Secret 凭据明文，仅供客户端鉴权使用
func (h KeyHandle) Secret() string { return h.secret }

// String 脱敏输出
func (h KeyHandle) String() string {
	return fmt.Sprintf("%s#%d(%s)", h.Provider, h.Index, mask(h.secret))
}

// KeyPool 凭据池：当前凭据被 provider 报告耗尽时轮换到下一个，冷却期后恢复可用
type KeyPool struct {
	mu        sync.Mutex
	provider  string
	keys      []string
	active    int
	exhausted []time.Time // 零值表示可用
	cooldown  time.Duration
	now       func() time.Time
}

// NewKeyPool 创建凭据池；cooldown<=0 时耗尽的凭据在本进程内不再恢复
func NewKeyPool(provider string, keys []string, cooldown time.Duration) *KeyPool {
	return &KeyPool{
		provider:  provider,
		keys:      append([]string(nil), keys...),
		exhausted: make([]time.Time, len(keys)),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Len 凭据数
func (p *KeyPool) Len() int { return len(p.keys) }

// Active 当前凭据；全部耗尽时返回 NoCredentialsAvailableError
func (p *KeyPool) Active() (KeyHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if len(p.keys) == 0 {
		return KeyHandle{}, perrors.NoCredentials("quota.keys", p.provider+": credential pool is empty")
	}
	if p.usable(p.active, now) {
		return p.handle(p.active), nil
	}
	if next, ok := p.nextUsable(now); ok {
		p.active = next
		return p.handle(next), nil
	}
	return KeyHandle{}, perrors.NoCredentials("quota.keys", p.provider+": all credentials exhausted")
}

// RotateKey 标记当前凭据耗尽并循环前进到下一个可用凭据
func (p *KeyPool) RotateKey() (KeyHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return KeyHandle{}, perrors.NoCredentials("quota.keys", p.provider+": credential pool is empty")
	}
	now := p.now()
	p.exhausted[p.active] = now
	metrics.KeyRotations.WithLabelValues(p.provider).Inc()
	next, ok := p.nextUsable(now)
	if !ok {
		return KeyHandle{}, perrors.NoCredentials("quota.keys", fmt.Sprintf("%s: all %d credentials exhausted", p.provider, len(p.keys)))
	}
	p.active = next
	return p.handle(next), nil
}

func (p *KeyPool) nextUsable(now time.Time) (int, bool) {
	for step := 1; step <= len(p.keys); step++ {
		i := (p.active + step) % len(p.keys)
		if p.usable(i, now) {
			return i, true
		}
	}
	return 0, false
}

func (p *KeyPool) usable(i int, now time.Time) bool {
	at := p.exhausted[i]
	if at.IsZero() {
		return true
	}
	if p.cooldown > 0 && now.Sub(at) >= p.cooldown {
		p.exhausted[i] = time.Time{}
		return true
	}
	return false
}

func (p *KeyPool) handle(i int) KeyHandle {
	return KeyHandle{Provider: p.provider, Index: i, secret: p.keys[i]}
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
