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

package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind 错误类别，写入账本 error_history 的 kind 字段
type Kind string

const (
	KindTransientProvider   Kind = "TransientProviderError"
	KindQuotaExhausted      Kind = "QuotaExhaustedError"
	KindNoCredentials       Kind = "NoCredentialsAvailableError"
	KindMalformedOutput     Kind = "MalformedOutput"
	KindTruncationSuspected Kind = "TruncationSuspected"
	KindSignatureMismatch   Kind = "SignatureMismatch"
	KindCorruptState        Kind = "CorruptStateError"
	KindInference           Kind = "InferenceError"
	KindInterrupted         Kind = "InterruptedAttempt"
	KindCanceled            Kind = "Canceled"
	KindInternal            Kind = "InternalError"
)

// PipelineError 带类别的流水线错误
type PipelineError struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Stage, e.Message)
}

// Unwrap 实现 errors.Unwrap 接口
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// New 创建指定类别的错误
func New(kind Kind, stage, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Message: message, Err: err}
}

// TransientProvider 网络/超时等可重试的 provider 错误
func TransientProvider(stage, message string, err error) *PipelineError {
	return New(KindTransientProvider, stage, message, err)
}

// QuotaExhausted 配额等待超时或 provider 报告额度耗尽
func QuotaExhausted(stage, message string, err error) *PipelineError {
	return New(KindQuotaExhausted, stage, message, err)
}

// NoCredentials 凭据池全部耗尽
func NoCredentials(stage, message string) *PipelineError {
	return New(KindNoCredentials, stage, message, nil)
}

// CorruptState 账本快照存在但无法反序列化
func CorruptState(stage, message string, err error) *PipelineError {
	return New(KindCorruptState, stage, message, err)
}

// Inference 推理响应格式错误或传输失败
func Inference(stage, message string, err error) *PipelineError {
	return New(KindInference, stage, message, err)
}

// Validation 生成结果校验失败（MalformedOutput / TruncationSuspected / SignatureMismatch）
func Validation(kind Kind, message string) *PipelineError {
	return New(kind, "validate", message, nil)
}

// As 取出链上的 PipelineError
func As(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf 返回错误类别；未分类的错误归为 InternalError
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientProvider
	}
	return KindInternal
}

// IsKind 判断错误链上是否有指定类别
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsFatal 账本损坏与凭据池耗尽终止整个 run
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindCorruptState, KindNoCredentials:
		return true
	}
	return false
}

// IsValidation 是否为生成结果校验失败
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindMalformedOutput, KindTruncationSuspected, KindSignatureMismatch:
		return true
	}
	return false
}
