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

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"refactor-pipeline/internal/inference"
	"refactor-pipeline/internal/model"
	"refactor-pipeline/internal/quota"
	"refactor-pipeline/pkg/config"
	"refactor-pipeline/pkg/log"
	"refactor-pipeline/pkg/secrets"
)

// Models 主/备 provider 组成的推理链路，以及共享的 Redis 连接（若有）
type Models struct {
	Chat      inference.Chatter
	Governors map[string]*quota.Governor
	// Keys 所有已解析的 provider 凭据（含 secret_refs）
	Keys  []string
	redis redis.UniversalClient
}

// Close 释放 Redis 连接
func (m *Models) Close() error {
	if m.redis != nil {
		return m.redis.Close()
	}
	return nil
}

// NewModelsFromConfig 为主/备 provider 各建一个 Governor（窗口 + 凭据池），包装为 GovernedClient 后组成 FallbackChain
func NewModelsFromConfig(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Models, error) {
	reg, err := model.NewRegistryFromConfig(cfg.Model.Providers)
	if err != nil {
		return nil, fmt.Errorf("初始化 LLM 失败: %w", err)
	}
	store, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Vault: secrets.VaultConfig{
			Address:    cfg.Secrets.Vault.Address,
			Token:      cfg.Secrets.Vault.Token,
			PathPrefix: cfg.Secrets.Vault.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化凭据存储失败: %w", err)
	}

	m := &Models{Governors: map[string]*quota.Governor{}}
	if cfg.Quota.Backend == "redis" {
		m.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Quota.Redis.Addr,
			Password: cfg.Quota.Redis.Password,
			DB:       cfg.Quota.Redis.DB,
		})
		if err := m.redis.Ping(ctx).Err(); err != nil {
			_ = m.redis.Close()
			return nil, fmt.Errorf("连接配额 Redis 失败: %w", err)
		}
	}

	governed := func(name string) (inference.Chatter, error) {
		client, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		pc := cfg.Model.Providers[name]
		keys := append([]string(nil), pc.APIKeys...)
		if len(pc.SecretRefs) > 0 {
			resolved, err := secrets.ResolveAll(ctx, store, pc.SecretRefs)
			if err != nil {
				return nil, err
			}
			keys = append(keys, resolved...)
		}
		keys = nonEmpty(keys)
		if len(keys) == 0 {
			return nil, fmt.Errorf("provider %s: no api keys configured", name)
		}

		var window quota.Window
		if m.redis != nil {
			window = quota.NewRedisWindow(m.redis, cfg.Quota.Redis.Key+":"+name, cfg.Quota.Window, cfg.Quota.RequestsPerWindow)
		} else {
			window = quota.NewMemoryWindow(cfg.Quota.Window, cfg.Quota.RequestsPerWindow)
		}
		gov := quota.NewGovernor(quota.Config{
			Provider:        name,
			MaxWait:         cfg.Quota.MaxWait,
			TokensPerMinute: cfg.Quota.TokensPerMinute,
		}, window, quota.NewKeyPool(name, keys, cfg.Quota.Window))
		m.Governors[name] = gov
		m.Keys = append(m.Keys, keys...)
		return inference.NewGovernedClient(client, gov, logger.With("provider", name)), nil
	}

	primary, err := governed(cfg.Model.Primary)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	m.Chat = primary
	if cfg.Model.Fallback != "" && cfg.Model.Fallback != cfg.Model.Primary {
		fallback, err := governed(cfg.Model.Fallback)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.Chat = inference.NewFallbackChain(primary, fallback, logger)
	}
	logger.Info("inference ready", "primary", cfg.Model.Primary, "fallback", cfg.Model.Fallback, "providers", reg.Names())
	return m, nil
}

func nonEmpty(keys []string) []string {
	out := keys[:0]
	for _, k := range keys {
		if strings.TrimSpace(k) != "" {
			out = append(out, k)
		}
	}
	return out
}
