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

// Package decision 根据坏味与结构信号选择修复路径（Fix / Suggest / Skip）
package decision

import (
	"fmt"

	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/smell"
	perrors "refactor-pipeline/pkg/errors"
)

// DefaultTokenCeiling 输出 token 估算上限
const DefaultTokenCeiling = 6000

// Outcome 判定结果
type Outcome int

const (
	OutcomeSkip Outcome = iota
	OutcomeFix
	OutcomeSuggest
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkip:
		return "skip"
	case OutcomeFix:
		return "fix"
	case OutcomeSuggest:
		return "suggest"
	default:
		return "unknown"
	}
}

// Mode 对应账本中的模式；Skip 没有模式
func (o Outcome) Mode() ledger.Mode {
	switch o {
	case OutcomeFix:
		return ledger.ModeFix
	case OutcomeSuggest:
		return ledger.ModeSuggest
	}
	return ledger.ModeNone
}

// Verdict 生成前的判定，记录到账本后不随生成结果改写
type Verdict struct {
	Outcome         Outcome
	MultiFileImpact bool
	Overflow        bool
	EstimatedTokens int
	Reasons         []string
}

// Engine Decision Engine
type Engine struct {
	TokenCeiling int
}

// NewEngine ceiling<=0 时使用默认 6000
func NewEngine(ceiling int) *Engine {
	if ceiling <= 0 {
		ceiling = DefaultTokenCeiling
	}
	return &Engine{TokenCeiling: ceiling}
}

// EstimateTokens 输出 token 估算：随输入大小与坏味数量单调递增
func EstimateTokens(inputBytes int, det smell.Detection) int {
	return inputBytes/4 + 150*len(det.Smells) + 50*len(det.AffectedMethods())
}

// Decide 按顺序：无坏味 → Skip；多文件影响或超出 token 上限 → Suggest；否则 Fix（待生成端确认单文件范围）
func (e *Engine) Decide(det smell.Detection, sig Signals) Verdict {
	if det.Empty() {
		return Verdict{Outcome: OutcomeSkip, Reasons: []string{"no_smells"}}
	}
	v := Verdict{
		MultiFileImpact: sig.MultiFileImpact(),
		EstimatedTokens: EstimateTokens(sig.InputBytes, det),
		Reasons:         sig.Reasons(),
	}
	v.Overflow = v.EstimatedTokens > e.TokenCeiling
	if v.Overflow {
		v.Reasons = append(v.Reasons, fmt.Sprintf("token_overflow(%d>%d)", v.EstimatedTokens, e.TokenCeiling))
	}
	if v.MultiFileImpact || v.Overflow {
		v.Outcome = OutcomeSuggest
	} else {
		v.Outcome = OutcomeFix
	}
	return v
}

// ArtifactKind 生成端返回的带标签结果
type ArtifactKind int

const (
	ArtifactMalformed ArtifactKind = iota
	ArtifactCode
	ArtifactSuggestion
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactCode:
		return "code"
	case ArtifactSuggestion:
		return "suggestion"
	default:
		return "malformed"
	}
}

// Reconcile 结合生成端自报的范围得出最终模式：
// Fix 需要结构信号与自报都为单文件；不一致时取 Suggest。
// Malformed、以及 Suggest 请求得到代码时返回 MalformedOutput 校验错误。
func (e *Engine) Reconcile(v Verdict, kind ArtifactKind) (ledger.Mode, error) {
	switch kind {
	case ArtifactCode:
		if v.Outcome == OutcomeFix {
			return ledger.ModeFix, nil
		}
		return ledger.ModeNone, perrors.Validation(perrors.KindMalformedOutput, "generator returned code for a suggestion-only request")
	case ArtifactSuggestion:
		if v.Outcome == OutcomeSkip {
			return ledger.ModeNone, perrors.Validation(perrors.KindMalformedOutput, "generator output for a skipped file")
		}
		return ledger.ModeSuggest, nil
	default:
		return ledger.ModeNone, perrors.Validation(perrors.KindMalformedOutput, "response carries neither or both sentinel markers")
	}
}
