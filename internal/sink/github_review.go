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
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	perrors "refactor-pipeline/pkg/errors"
)

// PullState PR 当前状态
type PullState struct {
	State   string // open | closed
	Merged  bool
	HeadRef string
}

// ReviewComment 评审意见；Path/Line 只有行内评论才有
type ReviewComment struct {
	ID     int64
	Author string
	Body   string
	Path   string
	Line   int
}

type ghComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
	Path string `json:"path"`
	Line int    `json:"line"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

// PRNumber 从 PR 的 html_url 解析编号
func PRNumber(ref string) (int, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return 0, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] != "pull" {
		return 0, false
	}
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// PullState GET /pulls/{n}
func (s *GitHubSink) PullState(ctx context.Context, number int) (PullState, error) {
	var pr struct {
		State  string `json:"state"`
		Merged bool   `json:"merged"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&pr).SetError(&apiError{}).
		Get(fmt.Sprintf("%s/pulls/%d", s.repoPath(), number))
	if err := s.checkReview(resp, err, "get pull"); err != nil {
		return PullState{}, err
	}
	return PullState{State: pr.State, Merged: pr.Merged, HeadRef: pr.Head.Ref}, nil
}

// Comments 行内评论与会话评论合并，只返回 ID 大于 sinceID 的，按 ID 升序
func (s *GitHubSink) Comments(ctx context.Context, number int, sinceID int64) ([]ReviewComment, error) {
	var out []ReviewComment
	for _, src := range []struct{ path, op string }{
		{fmt.Sprintf("%s/pulls/%d/comments", s.repoPath(), number), "list review comments"},
		{fmt.Sprintf("%s/issues/%d/comments", s.repoPath(), number), "list issue comments"},
	} {
		var page []ghComment
		resp, err := s.client.R().SetContext(ctx).SetResult(&page).SetError(&apiError{}).
			SetQueryParam("per_page", "100").
			Get(src.path)
		if err := s.checkReview(resp, err, src.op); err != nil {
			return nil, err
		}
		for _, c := range page {
			if c.ID <= sinceID {
				continue
			}
			out = append(out, ReviewComment{ID: c.ID, Author: c.User.Login, Body: c.Body, Path: c.Path, Line: c.Line})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PullFiles PR 改动的文件路径
func (s *GitHubSink) PullFiles(ctx context.Context, number int) ([]string, error) {
	var files []struct {
		Filename string `json:"filename"`
		Status   string `json:"status"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&files).SetError(&apiError{}).
		SetQueryParam("per_page", "100").
		Get(fmt.Sprintf("%s/pulls/%d/files", s.repoPath(), number))
	if err := s.checkReview(resp, err, "list pull files"); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f.Status == "removed" {
			continue
		}
		out = append(out, f.Filename)
	}
	return out, nil
}

// FileAt 读取 ref 上的文件内容及其 blob sha
func (s *GitHubSink) FileAt(ctx context.Context, filePath, ref string) (string, string, error) {
	var file struct {
		SHA      string `json:"sha"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&file).SetError(&apiError{}).
		SetQueryParam("ref", ref).
		Get(s.repoPath() + "/contents/" + filePath)
	if err := s.checkReview(resp, err, "get contents"); err != nil {
		return "", "", err
	}
	if file.Encoding != "" && file.Encoding != "base64" {
		return "", "", fmt.Errorf("github get contents %s: unsupported encoding %q", filePath, file.Encoding)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", "", fmt.Errorf("github get contents %s: %w", filePath, err)
	}
	return string(raw), file.SHA, nil
}

// UpdateFile 在 branch 上提交文件；sha 为空时创建
func (s *GitHubSink) UpdateFile(ctx context.Context, branch, filePath, sha, message, content string) error {
	req := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if sha != "" {
		req["sha"] = sha
	}
	resp, err := s.client.R().SetContext(ctx).SetError(&apiError{}).SetBody(req).
		Put(s.repoPath() + "/contents/" + filePath)
	return s.checkReview(resp, err, "put contents")
}

// Comment 在 PR 会话中发表评论，返回评论 ID
func (s *GitHubSink) Comment(ctx context.Context, number int, body string) (int64, error) {
	var c struct {
		ID int64 `json:"id"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&c).SetError(&apiError{}).
		SetBody(map[string]string{"body": body}).
		Post(fmt.Sprintf("%s/issues/%d/comments", s.repoPath(), number))
	if err := s.checkReview(resp, err, "create comment"); err != nil {
		return 0, err
	}
	return c.ID, nil
}

// checkReview 令牌被拒时返回 NoCredentials，轮询据此中止
func (s *GitHubSink) checkReview(resp *resty.Response, err error, op string) error {
	if err == nil && resp != nil && resp.StatusCode() == http.StatusUnauthorized {
		return perrors.NoCredentials("github."+strings.ReplaceAll(op, " ", "_"), "token rejected")
	}
	return s.check(resp, err, op)
}
