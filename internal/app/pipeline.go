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

	"refactor-pipeline/internal/decision"
	"refactor-pipeline/internal/feedback"
	"refactor-pipeline/internal/inference"
	"refactor-pipeline/internal/orchestrator"
	"refactor-pipeline/internal/sink"
	"refactor-pipeline/internal/source"
	"refactor-pipeline/internal/validate"
	"refactor-pipeline/pkg/config"
	"refactor-pipeline/pkg/utils"
)

// defaultMaxTokens provider 未配置 max_tokens 时的输出上限
const defaultMaxTokens = 8192

// Pipeline 一次装配好的 run 所需组件
type Pipeline struct {
	Orchestrator *orchestrator.Orchestrator
	Source       *source.FSSource
	Models       *Models
	Sink         sink.Sink
	Generator    *inference.Generator
	// GitHub 未开启 PR 交付时为 nil
	GitHub *sink.GitHubSink
}

// Close 释放推理侧连接
func (p *Pipeline) Close() error {
	if p.Models != nil {
		return p.Models.Close()
	}
	return nil
}

// NewSinkFromConfig 报告目录与 GitHub PR 可同时开启；都关闭时丢弃产物。
// 第二个返回值是 GitHub sink 本身，供评审跟进复用。
func NewSinkFromConfig(cfg config.SinkConfig) (sink.Sink, *sink.GitHubSink) {
	var sinks []sink.Sink
	if cfg.Report.Enable {
		sinks = append(sinks, sink.NewReportSink(cfg.Report.Dir))
	}
	var gh *sink.GitHubSink
	if cfg.GitHub.Enable {
		gh = sink.NewGitHubSink(sink.GitHubConfig{
			APIURL:     cfg.GitHub.APIURL,
			Token:      cfg.GitHub.Token,
			Owner:      cfg.GitHub.Owner,
			Repo:       cfg.GitHub.Repo,
			BaseBranch: cfg.GitHub.BaseBranch,
			Draft:      cfg.GitHub.Draft,
		})
		sinks = append(sinks, gh)
	}
	switch len(sinks) {
	case 0:
		return sink.Discard{}, nil
	case 1:
		return sinks[0], gh
	}
	return sink.NewMulti(sinks...), gh
}

// NewSourceFromConfig 按扫描配置创建文件系统来源
func (b *Bootstrap) NewSourceFromConfig() (*source.FSSource, error) {
	sc := b.Config.Scan
	excludes := sc.ExcludeDirs
	if len(excludes) == 0 {
		excludes = source.DefaultExcludeDirs
	}
	return source.NewFSSource(source.Options{
		Root:         sc.Root,
		Mode:         sc.Mode,
		MinLines:     sc.MinLines,
		ChangedHours: sc.ChangedHours,
		Packages:     sc.Packages,
		Files:        sc.Files,
		ExcludeDirs:  excludes,
		Extensions:   sc.Extensions,
	}, b.Logger.With("component", "source"))
}

// NewPipeline 装配 Orchestrator：来源、检测/生成、判定、校验与交付
func (b *Bootstrap) NewPipeline(ctx context.Context) (*Pipeline, error) {
	cfg := b.Config
	src, err := b.NewSourceFromConfig()
	if err != nil {
		return nil, fmt.Errorf("初始化候选来源失败: %w", err)
	}
	models, err := NewModelsFromConfig(ctx, cfg, b.Logger)
	if err != nil {
		return nil, err
	}
	b.Redactor.AddSecrets(models.Keys...)

	pc := cfg.Model.Providers[cfg.Model.Primary]
	maxTokens := utils.PositiveOr(pc.MaxTokens, defaultMaxTokens)
	temperature := utils.PositiveOr(pc.Temperature, 0.2)

	var syntax validate.SyntaxChecker
	if utils.CoalesceString(cfg.Pipeline.Language, "java") == "java" {
		syntax = validate.NewJavaChecker()
	}
	out, gh := NewSinkFromConfig(cfg.Sink)
	gen := inference.NewGenerator(models.Chat, maxTokens, temperature)

	orch, err := orchestrator.New(orchestrator.Config{
		MaxFilesPerRun:    cfg.Pipeline.MaxFilesPerRun,
		Concurrency:       cfg.Pipeline.Concurrency,
		RelatedFiles:      cfg.Pipeline.RelatedFiles,
		ReprocessOnChange: cfg.Pipeline.ReprocessOnChange,
	}, orchestrator.Deps{
		Ledger:    b.Ledger,
		Retry:     b.Retry,
		Source:    src,
		Detector:  inference.NewDetector(models.Chat, maxTokens, b.Logger.With("component", "detector")),
		Generator: gen,
		Engine:    decision.NewEngine(cfg.Pipeline.TokenCeiling),
		Validator: validate.New(cfg.Pipeline.TruncationRatio, syntax),
		Sink:      out,
		Logger:    b.Logger.With("component", "orchestrator"),
	})
	if err != nil {
		_ = models.Close()
		return nil, err
	}
	return &Pipeline{Orchestrator: orch, Source: src, Models: models, Sink: out, Generator: gen, GitHub: gh}, nil
}

// NewMonitor 已开 PR 的评审跟进，复用 run 的受控生成器与 GitHub sink
func (b *Bootstrap) NewMonitor(p *Pipeline) (*feedback.Monitor, error) {
	if p.GitHub == nil {
		return nil, fmt.Errorf("评审跟进需要开启 sink.github")
	}
	fc := b.Config.Sink.GitHub.Feedback
	return feedback.NewMonitor(b.Ledger, p.GitHub, p.Generator, feedback.Config{
		MaxIterations: fc.MaxIterations,
		Interval:      fc.Interval,
	}, b.Logger.With("component", "feedback")).WithRedactor(b.Redactor), nil
}
