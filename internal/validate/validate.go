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

// Package validate 在 Fix 结果被接受前校验生成代码
package validate

import (
	"context"
	"fmt"
	"strings"

	"refactor-pipeline/internal/decision"
	perrors "refactor-pipeline/pkg/errors"
)

// DefaultTruncationRatio 生成结果短于原文该比例视为截断
const DefaultTruncationRatio = 0.5

// Validator 生成代码校验器
type Validator struct {
	TruncationRatio float64
	// Syntax 为 nil 时只做括号配对检查
	Syntax SyntaxChecker
}

// SyntaxChecker 顶层结构可解析性检查
type SyntaxChecker interface {
	Check(ctx context.Context, code string) ([]SyntaxIssue, error)
}

// SyntaxIssue 语法问题位置
type SyntaxIssue struct {
	Line    int
	Column  int
	Message string
}

// New 创建校验器；ratio<=0 使用默认值
func New(ratio float64, syntax SyntaxChecker) *Validator {
	if ratio <= 0 {
		ratio = DefaultTruncationRatio
	}
	return &Validator{TruncationRatio: ratio, Syntax: syntax}
}

// Validate 依次检查截断、结构完整性、public 签名保留；失败返回对应类别的校验错误
func (v *Validator) Validate(ctx context.Context, original, generated string) error {
	if strings.TrimSpace(generated) == "" {
		return perrors.Validation(perrors.KindMalformedOutput, "generated code is empty")
	}
	if float64(len(generated)) < v.TruncationRatio*float64(len(original)) {
		return perrors.Validation(perrors.KindTruncationSuspected,
			fmt.Sprintf("generated %d bytes is below %.0f%% of original %d bytes", len(generated), v.TruncationRatio*100, len(original)))
	}
	if err := CheckDelimiters(generated); err != nil {
		return perrors.Validation(perrors.KindMalformedOutput, err.Error())
	}
	if v.Syntax != nil {
		issues, err := v.Syntax.Check(ctx, generated)
		if err != nil {
			return perrors.Validation(perrors.KindMalformedOutput, "parse generated code: "+err.Error())
		}
		if len(issues) > 0 {
			first := issues[0]
			return perrors.Validation(perrors.KindMalformedOutput,
				fmt.Sprintf("%d syntax error(s), first at line %d col %d: %s", len(issues), first.Line, first.Column, first.Message))
		}
	}
	if missing := MissingSignatures(original, generated); len(missing) > 0 {
		return perrors.Validation(perrors.KindSignatureMismatch,
			fmt.Sprintf("public signatures not preserved: %s", strings.Join(missing, "; ")))
	}
	return nil
}

// MissingSignatures 原文中 public/protected 签名在生成结果里缺失的部分
func MissingSignatures(original, generated string) []string {
	have := map[string]struct{}{}
	for _, s := range decision.PublicSignatures(generated) {
		have[s] = struct{}{}
	}
	var missing []string
	for _, s := range decision.PublicSignatures(original) {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// CheckDelimiters 括号配对检查，跳过字符串、字符字面量与注释
func CheckDelimiters(code string) error {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	line := 1
	rs := []rune(code)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '\n':
			line++
		case c == '/' && i+1 < len(rs) && rs[i+1] == '/':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			line++
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			i += 2
			for i+1 < len(rs) && !(rs[i] == '*' && rs[i+1] == '/') {
				if rs[i] == '\n' {
					line++
				}
				i++
			}
			if i+1 >= len(rs) {
				return fmt.Errorf("unterminated block comment")
			}
			i++
		case c == '"' || c == '\'':
			quote := c
			i++
			for i < len(rs) && rs[i] != quote {
				if rs[i] == '\\' {
					i++
				} else if rs[i] == '\n' && quote == '\'' {
					return fmt.Errorf("unterminated character literal at line %d", line)
				}
				i++
			}
			if i >= len(rs) {
				return fmt.Errorf("unterminated literal at line %d", line)
			}
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, c)
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return fmt.Errorf("unbalanced %q at line %d", c, line)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("%d unclosed delimiter(s), last %q", len(stack), stack[len(stack)-1])
	}
	return nil
}
