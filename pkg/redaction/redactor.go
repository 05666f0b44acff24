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

// Package redaction 在错误消息写入账本、日志或 PR 之前抹去凭据。
package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Mode 脱敏模式
type Mode string

const (
	ModeRedact Mode = "redact" // 替换为 ***REDACTED***
	ModeHash   Mode = "hash"   // 替换为带 salt 的 SHA256 前缀，可区分是哪一个凭据
)

// Placeholder redact 模式的替换值
const Placeholder = "***REDACTED***"

// minSecretLen 更短的值不按字面匹配，避免误伤普通文本
const minSecretLen = 8

// DefaultPatterns 常见 provider 凭据形态；带分组的模式只替换最后一个分组
var DefaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{30,}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-]{8,})`),
	regexp.MustCompile(`(?i)([?&](?:key|api_key|access_token)=)([^&\s"']+)`),
}

// Redactor 已知凭据按字面替换，其余按模式替换；并发安全
type Redactor struct {
	mu       sync.RWMutex
	mode     Mode
	salt     string
	secrets  []string
	patterns []*regexp.Regexp
}

// New 创建 Redactor，使用 DefaultPatterns
func New(mode Mode, salt string) *Redactor {
	if mode == "" {
		mode = ModeRedact
	}
	return &Redactor{mode: mode, salt: salt, patterns: DefaultPatterns}
}

// AddSecrets 登记需要按字面抹去的值
func (r *Redactor) AddSecrets(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.secrets))
	for _, s := range r.secrets {
		seen[s] = struct{}{}
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) < minSecretLen {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		r.secrets = append(r.secrets, v)
	}
	// 长的先替换，避免前缀相同的凭据只被替换一部分
	sort.Slice(r.secrets, func(i, j int) bool { return len(r.secrets[i]) > len(r.secrets[j]) })
}

// Redact 返回脱敏后的文本
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, secret := range r.secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, r.mask(secret))
		}
	}
	for _, p := range r.patterns {
		s = p.ReplaceAllStringFunc(s, func(m string) string {
			sub := p.FindStringSubmatch(m)
			if len(sub) > 2 {
				return strings.Join(sub[1:len(sub)-1], "") + r.mask(sub[len(sub)-1])
			}
			return r.mask(m)
		})
	}
	return s
}

func (r *Redactor) mask(v string) string {
	if v == Placeholder || strings.HasPrefix(v, "hash:") {
		return v
	}
	if r.mode == ModeHash {
		h := sha256.New()
		h.Write([]byte(v))
		h.Write([]byte(r.salt))
		return "hash:" + hex.EncodeToString(h.Sum(nil))[:12]
	}
	return Placeholder
}
