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

package source

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"refactor-pipeline/pkg/log"
)

// 扫描模式
const (
	ModeAll     = "all"
	ModeChanged = "changed"
	ModeLarge   = "large"
	ModePackage = "package"
	ModeManual  = "manual"
)

// Options 文件系统扫描选项
type Options struct {
	Root         string
	Mode         string
	MinLines     int      // large 模式的行数下限
	ChangedHours int      // changed 模式回看的小时数
	Packages     []string // package 模式匹配的路径片段
	Files        []string // manual 模式的相对路径
	ExcludeDirs  []string
	Extensions   []string
}

// DefaultExcludeDirs 构建产物、测试与 VCS 目录
var DefaultExcludeDirs = []string{"target", "build", "test", "generated", ".git", "node_modules"}

// FSSource 基于目录树的候选来源
type FSSource struct {
	opts   Options
	git    ChangeLister
	logger *log.Logger
}

// NewFSSource 创建扫描器
func NewFSSource(opts Options, logger *log.Logger) (*FSSource, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("source: root is required")
	}
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = abs
	if opts.Mode == "" {
		opts.Mode = ModeLarge
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".java"}
	}
	if opts.ExcludeDirs == nil {
		opts.ExcludeDirs = DefaultExcludeDirs
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &FSSource{opts: opts, git: GitChanges{}, logger: logger}, nil
}

// WithChangeLister 替换 changed 模式的变更来源
func (s *FSSource) WithChangeLister(g ChangeLister) *FSSource {
	s.git = g
	return s
}

// Root 仓库根目录
func (s *FSSource) Root() string { return s.opts.Root }

// Candidates 实现 Source
func (s *FSSource) Candidates(ctx context.Context) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		paths, err := s.discover(ctx)
		if err != nil {
			yield(Candidate{}, err)
			return
		}
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				yield(Candidate{}, err)
				return
			}
			if !yield(s.candidate(p), nil) {
				return
			}
		}
	}
}

// Read 实现 Source
func (s *FSSource) Read(_ context.Context, c Candidate) ([]byte, error) {
	b, err := os.ReadFile(c.ContentRef)
	if err != nil {
		return nil, &ReadError{Identifier: c.Identifier, Err: err}
	}
	return b, nil
}

// Related 在仓库内按文件名查找，最多 limit 个
func (s *FSSource) Related(ctx context.Context, names []string, limit int) map[string]string {
	out := map[string]string{}
	if len(names) == 0 || limit <= 0 {
		return out
	}
	want := map[string]bool{}
	for _, n := range names {
		if len(want) >= limit {
			break
		}
		want[filepath.Base(n)] = true
	}
	_ = filepath.WalkDir(s.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || ctx.Err() != nil {
			return nil
		}
		if d.IsDir() {
			if s.excluded(d.Name()) && path != s.opts.Root {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !want[name] {
			return nil
		}
		if _, ok := out[name]; ok {
			return nil
		}
		b, readErr := os.ReadFile(path)
		if readErr != nil {
			s.logger.Warn("could not load related file", slog.String("file", name), slog.String("error", readErr.Error()))
			return nil
		}
		out[name] = string(b)
		if len(out) >= len(want) {
			return filepath.SkipAll
		}
		return nil
	})
	return out
}

func (s *FSSource) candidate(abs string) Candidate {
	rel, err := filepath.Rel(s.opts.Root, abs)
	if err != nil {
		rel = abs
	}
	return Candidate{Identifier: filepath.ToSlash(rel), ContentRef: abs}
}

func (s *FSSource) discover(ctx context.Context) ([]string, error) {
	switch s.opts.Mode {
	case ModeAll:
		return s.walk(ctx)
	case ModeChanged:
		return s.scanChanged(ctx)
	case ModeLarge:
		return s.scanLarge(ctx)
	case ModePackage:
		return s.scanPackage(ctx)
	case ModeManual:
		return s.scanManual()
	default:
		return nil, fmt.Errorf("source: unknown scan mode %q", s.opts.Mode)
	}
}

// walk 全部匹配扩展名的文件，按路径排序
func (s *FSSource) walk(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.opts.Root && s.excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.matchesExt(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walk %s: %w", s.opts.Root, err)
	}
	sort.Strings(out)
	return out, nil
}

// scanChanged git 变更文件；无变更或 git 不可用时退回 large 模式
func (s *FSSource) scanChanged(ctx context.Context) ([]string, error) {
	hours := s.opts.ChangedHours
	if hours <= 0 {
		hours = 24
	}
	rels, err := s.git.Changed(ctx, s.opts.Root, hours)
	if err != nil {
		s.logger.Warn("git change listing failed, falling back to large mode", slog.String("error", err.Error()))
		return s.scanLarge(ctx)
	}
	var out []string
	for _, rel := range rels {
		abs := filepath.Join(s.opts.Root, filepath.FromSlash(rel))
		if !s.matchesExt(abs) || s.inExcludedDir(rel) {
			continue
		}
		if _, statErr := os.Stat(abs); statErr != nil {
			continue
		}
		out = append(out, abs)
	}
	if len(out) == 0 {
		s.logger.Info("no changed files, falling back to large mode", slog.Int("hours", hours))
		return s.scanLarge(ctx)
	}
	return out, nil
}

// scanLarge 行数不少于 MinLines 的文件，大文件在前
func (s *FSSource) scanLarge(ctx context.Context) ([]string, error) {
	all, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}
	type sized struct {
		path  string
		lines int
	}
	var large []sized
	for _, p := range all {
		n, err := countLines(p)
		if err != nil {
			continue
		}
		if n >= s.opts.MinLines {
			large = append(large, sized{p, n})
		}
	}
	sort.SliceStable(large, func(i, j int) bool { return large[i].lines > large[j].lines })
	out := make([]string, len(large))
	for i, l := range large {
		out[i] = l.path
	}
	return out, nil
}

func (s *FSSource) scanPackage(ctx context.Context) ([]string, error) {
	all, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range all {
		slash := filepath.ToSlash(p)
		for _, pkg := range s.opts.Packages {
			if pkg != "" && strings.Contains(slash, pkg) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (s *FSSource) scanManual() ([]string, error) {
	var out []string
	for _, rel := range s.opts.Files {
		rel = strings.TrimSpace(rel)
		if rel == "" {
			continue
		}
		abs := filepath.Join(s.opts.Root, filepath.FromSlash(rel))
		if _, err := os.Stat(abs); err != nil {
			s.logger.Warn("manual file not found", slog.String("file", rel))
			continue
		}
		out = append(out, abs)
	}
	return out, nil
}

func (s *FSSource) excluded(dir string) bool {
	return slices.Contains(s.opts.ExcludeDirs, dir)
}

func (s *FSSource) inExcludedDir(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, p := range parts[:len(parts)-1] {
		if s.excluded(p) {
			return true
		}
	}
	return false
}

func (s *FSSource) matchesExt(path string) bool {
	return slices.Contains(s.opts.Extensions, filepath.Ext(path))
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
