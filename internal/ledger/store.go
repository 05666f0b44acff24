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
	"fmt"
	"sync"
)

// Store 账本文档的持久化后端。Save 必须原子：要么整份新文档可见，要么旧快照保持不变。
type Store interface {
	// Load 返回最近一次保存的文档；不存在时返回 nil, nil
	Load(ctx context.Context) ([]byte, error)
	// Save 整体替换文档
	Save(ctx context.Context, data []byte) error
	// Backend 后端名称（file | badger | postgres | memory）
	Backend() string
	Close() error
}

// StoreConfig 后端选择
type StoreConfig struct {
	Backend string
	Path    string // file
	Dir     string // badger
	DSN     string // postgres
	Name    string // badger key / postgres 行主键
}

// NewStore 按配置创建后端
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "badger":
		return OpenBadgerStore(cfg.Dir, cfg.Name)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, cfg.Name)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Backend)
	}
}

// MemoryStore 进程内后端；关闭状态管理或测试时使用
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore 创建空的内存后端
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryStore) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Saves 已落盘次数
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Backend() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }
