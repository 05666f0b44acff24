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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "refactor-pipeline/pkg/errors"
)

func TestPRNumber(t *testing.T) {
	tests := []struct {
		ref  string
		want int
		ok   bool
	}{
		{"https://github.com/acme/shop/pull/7", 7, true},
		{"https://github.example.com/acme/shop/pull/12/", 12, true},
		{"refactoring_reports/A.md", 0, false},
		{"https://github.com/acme/shop/issues/7", 0, false},
		{"https://github.com/acme/shop/pull/x", 0, false},
	}
	for _, tt := range tests {
		got, ok := PRNumber(tt.ref)
		if got != tt.want || ok != tt.ok {
			t.Errorf("PRNumber(%q) = %d, %v; want %d, %v", tt.ref, got, ok, tt.want, tt.ok)
		}
	}
}

func reviewServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/repos/acme/shop/pulls/7":
			_, _ = w.Write([]byte(`{"state":"closed","merged":true,"head":{"ref":"bot/refactor-x"}}`))
		case "/repos/acme/shop/pulls/7/comments":
			assert.Equal(t, "100", r.URL.Query().Get("per_page"))
			_, _ = w.Write([]byte(`[{"id":14,"body":"inline","path":"A.java","line":3,"user":{"login":"alice"}},{"id":9,"body":"old","user":{"login":"alice"}}]`))
		case "/repos/acme/shop/issues/7/comments":
			_, _ = w.Write([]byte(`[{"id":12,"body":"general","user":{"login":"bob"}}]`))
		case "/repos/acme/shop/pulls/7/files":
			_, _ = w.Write([]byte(`[{"filename":"A.java","status":"modified"},{"filename":"B.java","status":"removed"}]`))
		case "/repos/acme/shop/contents/A.java":
			assert.Equal(t, "bot/refactor-x", r.URL.Query().Get("ref"))
			enc := base64.StdEncoding.EncodeToString([]byte(original))
			_, _ = w.Write([]byte(`{"sha":"abc","encoding":"base64","content":"` + enc[:20] + `\n` + enc[20:] + `"}`))
		case "/repos/acme/shop/pulls/8":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGitHubSink_ReviewReads(t *testing.T) {
	ctx := context.Background()
	s := NewGitHubSink(GitHubConfig{APIURL: reviewServer(t).URL, Owner: "acme", Repo: "shop"})

	st, err := s.PullState(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, PullState{State: "closed", Merged: true, HeadRef: "bot/refactor-x"}, st)

	comments, err := s.Comments(ctx, 7, 10)
	require.NoError(t, err)
	assert.Equal(t, []ReviewComment{
		{ID: 12, Author: "bob", Body: "general"},
		{ID: 14, Author: "alice", Body: "inline", Path: "A.java", Line: 3},
	}, comments)

	files, err := s.PullFiles(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.java"}, files)

	content, sha, err := s.FileAt(ctx, "A.java", "bot/refactor-x")
	require.NoError(t, err)
	assert.Equal(t, original, content)
	assert.Equal(t, "abc", sha)
}

func TestGitHubSink_ReviewTokenRejected(t *testing.T) {
	s := NewGitHubSink(GitHubConfig{APIURL: reviewServer(t).URL, Owner: "acme", Repo: "shop"})

	_, err := s.PullState(context.Background(), 8)
	require.Error(t, err)
	assert.True(t, perrors.IsFatal(err))
	assert.Equal(t, perrors.KindNoCredentials, perrors.KindOf(err))

	_, _, err = s.FileAt(context.Background(), "Missing.java", "main")
	require.Error(t, err)
	assert.False(t, perrors.IsFatal(err))
}
