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

// Package source 发现候选文件，按稳定顺序产出 {identifier, content_ref}
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"iter"
)

// Candidate 候选文件；Identifier 为相对仓库根的 slash 路径
type Candidate struct {
	Identifier string `json:"identifier"`
	ContentRef string `json:"content_ref"`
}

// Source 候选来源；每次调用 Candidates 都重新扫描，序列有限
type Source interface {
	Candidates(ctx context.Context) iter.Seq2[Candidate, error]
	Read(ctx context.Context, c Candidate) ([]byte, error)
}

// RelatedLoader 按文件名加载相关文件作为推理上下文
type RelatedLoader interface {
	Related(ctx context.Context, names []string, limit int) map[string]string
}

// ContentHash sha256 前 16 个十六进制字符
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

// Collect 读完整个序列
func Collect(ctx context.Context, src Source) ([]Candidate, error) {
	var out []Candidate
	for c, err := range src.Candidates(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// StaticSource 固定候选与内容，测试与手工模式使用
type StaticSource struct {
	items    []Candidate
	contents map[string][]byte
}

// NewStaticSource identifiers 即顺序；ContentRef 与 Identifier 相同
func NewStaticSource(identifiers []string, contents map[string]string) *StaticSource {
	s := &StaticSource{contents: make(map[string][]byte, len(contents))}
	for _, id := range identifiers {
		s.items = append(s.items, Candidate{Identifier: id, ContentRef: id})
	}
	for k, v := range contents {
		s.contents[k] = []byte(v)
	}
	return s
}

// Set 修改内容
func (s *StaticSource) Set(identifier, content string) {
	s.contents[identifier] = []byte(content)
}

// Candidates 实现 Source
func (s *StaticSource) Candidates(ctx context.Context) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		for _, c := range s.items {
			if err := ctx.Err(); err != nil {
				yield(Candidate{}, err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

// Read 实现 Source
func (s *StaticSource) Read(_ context.Context, c Candidate) ([]byte, error) {
	b, ok := s.contents[c.ContentRef]
	if !ok {
		return nil, &ReadError{Identifier: c.Identifier}
	}
	return b, nil
}

// Related 实现 RelatedLoader
func (s *StaticSource) Related(_ context.Context, names []string, limit int) map[string]string {
	out := map[string]string{}
	for _, n := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		if b, ok := s.contents[n]; ok {
			out[n] = string(b)
		}
	}
	return out
}

// ReadError 候选内容不可读
type ReadError struct {
	Identifier string
	Err        error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return "read " + e.Identifier + ": " + e.Err.Error()
	}
	return "read " + e.Identifier + ": no content"
}

func (e *ReadError) Unwrap() error { return e.Err }
