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

package model

import (
	"fmt"
	"sort"
	"sync"

	"refactor-pipeline/internal/model/llm"
	"refactor-pipeline/pkg/config"
)

// Registry 按 provider 名称解析 LLM 客户端，便于主/备 provider 切换
type Registry struct {
	mu      sync.RWMutex
	clients map[string]llm.Client
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]llm.Client)}
}

// NewRegistryFromConfig 为配置中的每个 provider 构造客户端
func NewRegistryFromConfig(providers map[string]config.ProviderConfig) (*Registry, error) {
	r := NewRegistry()
	for name, pc := range providers {
		c, err := llm.NewClient(llm.Config{
			Name:    name,
			Type:    pc.Type,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		r.Register(name, c)
	}
	return r, nil
}

// Register 注册 LLM 实现
func (r *Registry) Register(name string, c llm.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
}

// Get 按名称获取 LLM
func (r *Registry) Get(name string) (llm.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("LLM not registered: %s", name)
	}
	return c, nil
}

// Names 已注册的 provider
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
