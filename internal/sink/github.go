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

package sink

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"refactor-pipeline/internal/ledger"
)

// GitHubConfig GitHub REST API 参数
type GitHubConfig struct {
	APIURL     string
	Token      string
	Owner      string
	Repo       string
	BaseBranch string // 为空时读取仓库默认分支
	Draft      bool
	Timeout    time.Duration
}

// GitHubSink 为每个记录创建分支、提交文件并开 PR
type GitHubSink struct {
	cfg    GitHubConfig
	client *resty.Client
	now    func() time.Time
}

// NewGitHubSink 创建 sink
func NewGitHubSink(cfg GitHubConfig) *GitHubSink {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &GitHubSink{cfg: cfg, client: client, now: time.Now}
}

// Name 实现 Sink
func (s *GitHubSink) Name() string { return "github" }

// BranchName bot/refactor-<unix>-<md5(identifier)[:8]>
func BranchName(identifier string, now time.Time) string {
	sum := md5.Sum([]byte(identifier))
	return fmt.Sprintf("bot/refactor-%d-%s", now.Unix(), hex.EncodeToString(sum[:])[:8])
}

// Deliver 返回 PR 的 html_url
func (s *GitHubSink) Deliver(ctx context.Context, h Handoff) (string, error) {
	base, err := s.baseBranch(ctx)
	if err != nil {
		return "", err
	}
	sha, err := s.headSHA(ctx, base)
	if err != nil {
		return "", err
	}
	branch := BranchName(h.Identifier, s.now())
	if err := s.createRef(ctx, branch, sha); err != nil {
		return "", err
	}

	var title, body, filePath, message string
	switch h.Mode {
	case ledger.ModeFix:
		filePath = h.Identifier
		title = "Automated Refactoring: Fix " + strings.Join(h.SmellTypes, ", ")
		message = "Refactor: Fix " + strings.Join(h.SmellTypes, ", ")
		body = fixPRBody(h)
	case ledger.ModeSuggest:
		filePath = strings.TrimSuffix(h.Identifier, path.Ext(h.Identifier)) + "_REFACTORING_SUGGESTIONS.md"
		title = "[Suggestions] Refactoring guidance for " + path.Base(h.Identifier)
		message = "Add refactoring suggestions for " + path.Base(h.Identifier)
		body = suggestPRBody(h, filePath)
	default:
		return "", fmt.Errorf("github: nothing to deliver for mode %q", h.Mode)
	}
	content := h.Artifact.Body
	if h.Mode == ledger.ModeSuggest {
		content = SuggestionMarkdown(h)
	}
	if err := s.putFile(ctx, branch, filePath, message, content); err != nil {
		return "", err
	}
	return s.openPR(ctx, title, body, branch, base)
}

type apiError struct {
	Message string `json:"message"`
}

func (s *GitHubSink) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("github %s: %w", op, err)
	}
	if resp.IsError() {
		msg := resp.String()
		if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
			msg = e.Message
		}
		return fmt.Errorf("github %s: status %d: %s", op, resp.StatusCode(), msg)
	}
	return nil
}

func (s *GitHubSink) repoPath() string {
	return "/repos/" + url.PathEscape(s.cfg.Owner) + "/" + url.PathEscape(s.cfg.Repo)
}

func (s *GitHubSink) baseBranch(ctx context.Context) (string, error) {
	if s.cfg.BaseBranch != "" {
		return s.cfg.BaseBranch, nil
	}
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&repo).SetError(&apiError{}).Get(s.repoPath())
	if err := s.check(resp, err, "get repo"); err != nil {
		return "", err
	}
	return repo.DefaultBranch, nil
}

func (s *GitHubSink) headSHA(ctx context.Context, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&ref).SetError(&apiError{}).
		Get(s.repoPath() + "/git/ref/heads/" + branch)
	if err := s.check(resp, err, "get ref"); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

func (s *GitHubSink) createRef(ctx context.Context, branch, sha string) error {
	resp, err := s.client.R().SetContext(ctx).SetError(&apiError{}).
		SetBody(map[string]string{"ref": "refs/heads/" + branch, "sha": sha}).
		Post(s.repoPath() + "/git/refs")
	return s.check(resp, err, "create ref")
}

// putFile 已存在的文件需要带上当前 sha 更新
func (s *GitHubSink) putFile(ctx context.Context, branch, filePath, message, content string) error {
	var existing struct {
		SHA string `json:"sha"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&existing).SetError(&apiError{}).
		SetQueryParam("ref", branch).
		Get(s.repoPath() + "/contents/" + filePath)
	if err != nil {
		return fmt.Errorf("github get contents: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return s.check(resp, nil, "get contents")
	}
	sha := ""
	if resp.IsSuccess() {
		sha = existing.SHA
	}
	return s.UpdateFile(ctx, branch, filePath, sha, message, content)
}

func (s *GitHubSink) openPR(ctx context.Context, title, body, head, base string) (string, error) {
	var pr struct {
		HTMLURL string `json:"html_url"`
		Number  int    `json:"number"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&pr).SetError(&apiError{}).
		SetBody(map[string]any{"title": title, "body": body, "head": head, "base": base, "draft": s.cfg.Draft}).
		Post(s.repoPath() + "/pulls")
	if err := s.check(resp, err, "create pull"); err != nil {
		return "", err
	}
	return pr.HTMLURL, nil
}

func fixPRBody(h Handoff) string {
	var b strings.Builder
	b.WriteString("## Automated Refactoring\n\n### Detected Design Smells\n\n")
	b.WriteString(h.SmellSummary)
	b.WriteString("\n\n### Changes Applied\n\nThe refactoring preserves all public interfaces while improving internal structure.\n\n")
	b.WriteString("### Review Checklist\n- [ ] All tests pass\n- [ ] No breaking changes to public API\n- [ ] Code is more maintainable\n\n")
	b.WriteString("---\n*Generated by the Automated Refactoring Pipeline*\n")
	return b.String()
}

func suggestPRBody(h Handoff, suggestionsFile string) string {
	var b strings.Builder
	b.WriteString("## Refactoring Suggestions (Multi-File Changes Required)\n\n")
	b.WriteString("This code contains design smells that require changes across multiple files. Automated refactoring cannot safely be applied.\n\n")
	fmt.Fprintf(&b, "**Detected Smells**: %s\n\n", strings.Join(h.SmellTypes, ", "))
	fmt.Fprintf(&b, "Please review the detailed suggestions in `%s`.\n\n", suggestionsFile)
	b.WriteString("### Detected Issues\n\n")
	b.WriteString(h.SmellSummary)
	b.WriteString("\n\n---\n*Generated by the Automated Refactoring Pipeline*\n")
	return b.String()
}
