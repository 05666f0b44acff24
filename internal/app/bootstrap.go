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
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"

	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/retry"
	"refactor-pipeline/pkg/config"
	"refactor-pipeline/pkg/log"
	"refactor-pipeline/pkg/redaction"
	"refactor-pipeline/pkg/retention"
	"refactor-pipeline/pkg/tracing"
)

// Bootstrap 统一初始化：供 api、worker 与 cli 复用，避免在 cmd 内写装配逻辑
type Bootstrap struct {
	Config *config.Config
	Logger *log.Logger
	Ledger *ledger.Ledger
	Retry  *retry.Controller
	// Redactor 抹去错误消息中的凭据；provider key 在装配推理链路时登记
	Redactor *redaction.Redactor

	store  ledger.Store
	tracer *trace.TracerProvider
}

// NewBootstrap 根据配置创建日志、账本与 Retry Controller；账本在此加载，损坏时直接返回 CorruptStateError
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	storeCfg := ledger.StoreConfig{
		Backend: cfg.Ledger.Backend,
		Path:    cfg.Ledger.Path,
		Dir:     cfg.Ledger.Dir,
		DSN:     cfg.Ledger.DSN,
		Name:    cfg.Ledger.Name,
	}
	if !cfg.Ledger.Enabled {
		storeCfg.Backend = "memory"
		logger.Warn("ledger persistence disabled, state will not survive restarts")
	}
	store, err := ledger.NewStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化账本存储失败: %w", err)
	}

	policy := retry.Policy{
		MaxRetries:   cfg.Pipeline.MaxRetries,
		BaseDelay:    cfg.Pipeline.BackoffBase,
		HistoryLimit: cfg.Pipeline.ErrorHistoryLimit,
	}
	l, err := ledger.Open(ctx, store,
		ledger.WithHistoryLimit(policy.HistoryLimit),
		ledger.WithMaxAttempts(policy.MaxRetries),
		ledger.WithRunRetention(retention.Policy{
			KeepLast: cfg.Pipeline.RunHistoryLimit,
			MaxAge:   cfg.Pipeline.RunHistoryMaxAge,
		}))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	redactor := redaction.New(redaction.Mode(cfg.Pipeline.RedactMode), "")
	redactor.AddSecrets(cfg.Sink.GitHub.Token, cfg.API.Token, cfg.Secrets.Vault.Token)
	for _, pc := range cfg.Model.Providers {
		redactor.AddSecrets(pc.APIKeys...)
	}

	b := &Bootstrap{
		Config:   cfg,
		Logger:   logger,
		Ledger:   l,
		Retry:    retry.NewController(l, policy, retry.WithRedactor(redactor)),
		Redactor: redactor,
		store:    store,
	}

	if t := cfg.Monitoring.Tracing; t.Enable && t.ExportEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, tracing.OTelConfig{
			ServiceName:    t.ServiceName,
			ExportEndpoint: t.ExportEndpoint,
			Insecure:       t.Insecure,
		})
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			b.tracer = tp
		}
	}
	logger.Info("bootstrap ready", "ledger", l.Backend(), "records", len(l.Records()))
	return b, nil
}

// Close 关闭 tracer、账本存储与日志
func (b *Bootstrap) Close(ctx context.Context) error {
	var errs []error
	if b.tracer != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, b.tracer.Shutdown(sctx))
		cancel()
	}
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	errs = append(errs, b.Logger.Close())
	return errors.Join(errs...)
}
