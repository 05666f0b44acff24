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

package feedback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refactor-pipeline/internal/inference"
	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/sink"
	perrors "refactor-pipeline/pkg/errors"
)

var fixedNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type comment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
	Path string `json:"path,omitempty"`
	Line int    `json:"line,omitempty"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

func newComment(id int64, author, body, path string, line int) comment {
	c := comment{ID: id, Body: body, Path: path, Line: line}
	c.User.Login = author
	return c
}

type pull struct {
	state   string
	merged  bool
	head    string
	review  []comment
	issue   []comment
	files   []string
	content map[string]string
}

// fakeGitHub 只实现评审跟进用到的 REST 端点
type fakeGitHub struct {
	mu       sync.Mutex
	pulls    map[int]*pull
	denied   map[int]bool
	puts     []map[string]string
	comments []string
	nextID   int64
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		rest, ok := strings.CutPrefix(r.URL.Path, "/repos/acme/shop/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if file, ok := strings.CutPrefix(rest, "contents/"); ok {
			f.contents(t, w, r, file)
			return
		}
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		kind, sub := parts[0], ""
		if len(parts) == 3 {
			sub = parts[2]
		}
		var n int
		_, _ = fmt.Sscanf(parts[1], "%d", &n)
		if f.denied[n] {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
			return
		}
		p, ok := f.pulls[n]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		switch {
		case kind == "pulls" && sub == "" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"state": p.state, "merged": p.merged, "head": map[string]string{"ref": p.head}})
		case kind == "pulls" && sub == "comments":
			_ = json.NewEncoder(w).Encode(p.review)
		case kind == "pulls" && sub == "files":
			files := make([]map[string]string, 0, len(p.files))
			for _, name := range p.files {
				files = append(files, map[string]string{"filename": name, "status": "modified"})
			}
			_ = json.NewEncoder(w).Encode(files)
		case kind == "issues" && sub == "comments" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(p.issue)
		case kind == "issues" && sub == "comments" && r.Method == http.MethodPost:
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.nextID++
			f.comments = append(f.comments, body["body"])
			p.issue = append(p.issue, newComment(f.nextID, "refactor-bot", body["body"], "", 0))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]int64{"id": f.nextID})
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	})
}

func (f *fakeGitHub) contents(t *testing.T, w http.ResponseWriter, r *http.Request, file string) {
	for _, p := range f.pulls {
		content, ok := p.content[file]
		if !ok {
			continue
		}
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, p.head, r.URL.Query().Get("ref"))
			// GitHub 按 60 列折行返回 base64
			enc := base64.StdEncoding.EncodeToString([]byte(content))
			var wrapped strings.Builder
			for len(enc) > 60 {
				wrapped.WriteString(enc[:60] + "\n")
				enc = enc[60:]
			}
			wrapped.WriteString(enc)
			_ = json.NewEncoder(w).Encode(map[string]string{"sha": "sha-" + file, "content": wrapped.String(), "encoding": "base64"})
		case http.MethodPut:
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.puts = append(f.puts, body)
			_, _ = w.Write([]byte(`{}`))
		}
		return
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"message":"Not Found"}`))
}

type fakeReviser struct {
	mu       sync.Mutex
	requests []inference.RevisionRequest
	err      error
}

func (r *fakeReviser) Revise(_ context.Context, req inference.RevisionRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return "", r.err
	}
	return strings.Replace(req.Content, "int x;", "int total;", 1), nil
}

const orderJava = "class Order {\n    int x;\n    // padding so the encoded body is wrapped across lines\n}\n"

func completed(t *testing.T, l *ledger.Ledger, id, ref string) {
	t.Helper()
	rec := ledger.NewRecord(id, "")
	rec.Status = ledger.StatusCompleted
	rec.ModeDecided = ledger.ModeFix
	rec.HandoffRef = ref
	require.NoError(t, l.Upsert(context.Background(), rec))
}

type fixture struct {
	gh      *fakeGitHub
	ledger  *ledger.Ledger
	reviser *fakeReviser
	monitor *Monitor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	gh := &fakeGitHub{
		nextID: 100,
		denied: map[int]bool{},
		pulls: map[int]*pull{
			7: {
				state: "open",
				head:  "bot/refactor-1-abc",
				review: []comment{
					newComment(10, "alice", "rename x", "Order.java", 2),
				},
				issue: []comment{
					newComment(11, "bob", "please add javadoc", "", 0),
				},
				files:   []string{"Order.java"},
				content: map[string]string{"Order.java": orderJava},
			},
			8: {state: "closed", merged: true, head: "bot/refactor-2-def"},
		},
	}
	srv := httptest.NewServer(gh.handler(t))
	t.Cleanup(srv.Close)

	l, err := ledger.Open(context.Background(), ledger.NewMemoryStore(), ledger.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	completed(t, l, "src/Order.java", "https://github.com/acme/shop/pull/7")
	completed(t, l, "src/Other.java", "https://github.com/acme/shop/pull/8")
	completed(t, l, "src/Report.java", "refactoring_reports/Report.md")
	failed := ledger.NewRecord("src/Failed.java", "")
	failed.Status = ledger.StatusFailed
	failed.HandoffRef = "https://github.com/acme/shop/pull/7"
	require.NoError(t, l.Upsert(context.Background(), failed))

	gs := sink.NewGitHubSink(sink.GitHubConfig{APIURL: srv.URL, Token: "ghp_test", Owner: "acme", Repo: "shop"})
	rv := &fakeReviser{}
	m := NewMonitor(l, gs, rv, cfg, nil).WithClock(func() time.Time { return fixedNow })
	return &fixture{gh: gh, ledger: l, reviser: rv, monitor: m}
}

func record(t *testing.T, l *ledger.Ledger, id string) ledger.FileRecord {
	t.Helper()
	rec, ok := l.Get(id)
	require.True(t, ok)
	return rec
}

func TestPoll_RevisesOnFeedbackAndTracksClosedPulls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxIterations: 3})

	res, err := f.monitor.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Checked: 2, Revised: 1, Closed: 1}, res)

	require.Len(t, f.reviser.requests, 1)
	req := f.reviser.requests[0]
	assert.Equal(t, "Order.java", req.Path)
	assert.Equal(t, orderJava, req.Content)
	assert.Equal(t, []string{"[alice] rename x (line 2 in Order.java)", "[bob] please add javadoc"}, req.Feedback)

	require.Len(t, f.gh.puts, 1)
	put := f.gh.puts[0]
	assert.Equal(t, "bot/refactor-1-abc", put["branch"])
	assert.Equal(t, "sha-Order.java", put["sha"])
	assert.Equal(t, "Revision 1: Address reviewer feedback", put["message"])
	body, err := base64.StdEncoding.DecodeString(put["content"])
	require.NoError(t, err)
	assert.Contains(t, string(body), "int total;")

	require.Len(t, f.gh.comments, 1)
	assert.Contains(t, f.gh.comments[0], Marker)
	assert.Contains(t, f.gh.comments[0], "- `Order.java`")

	order := record(t, f.ledger, "src/Order.java")
	require.NotNil(t, order.Feedback)
	assert.Equal(t, 7, order.Feedback.PRNumber)
	assert.Equal(t, 1, order.Feedback.Iterations)
	assert.Equal(t, ledger.FeedbackOpen, order.Feedback.State)
	assert.Equal(t, int64(101), order.Feedback.LastCommentID)
	assert.Equal(t, ledger.StatusCompleted, order.Status, "feedback never moves the record")

	other := record(t, f.ledger, "src/Other.java")
	require.NotNil(t, other.Feedback)
	assert.Equal(t, ledger.FeedbackMerged, other.Feedback.State)
	assert.Nil(t, record(t, f.ledger, "src/Report.java").Feedback)
	assert.Nil(t, record(t, f.ledger, "src/Failed.java").Feedback)
	assert.Equal(t, 1, f.ledger.SnapshotStats().Counters.QuotaUsage)

	// 只有自己的评论，不再改写
	res, err = f.monitor.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Checked: 1}, res)
	assert.Len(t, f.reviser.requests, 1)
}

func TestPoll_StopsAtMaxIterations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxIterations: 1})

	_, err := f.monitor.Poll(ctx)
	require.NoError(t, err)
	f.gh.mu.Lock()
	f.gh.pulls[7].issue = append(f.gh.pulls[7].issue, newComment(200, "alice", "still not right", "", 0))
	f.gh.mu.Unlock()

	_, err = f.monitor.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, f.reviser.requests, 1)
	order := record(t, f.ledger, "src/Order.java")
	assert.Equal(t, ledger.FeedbackExhausted, order.Feedback.State)
	assert.True(t, order.Feedback.Done())

	res, err := f.monitor.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}

func TestPoll_RejectedTokenIsFatal(t *testing.T) {
	f := newFixture(t, Config{})
	f.gh.denied[7] = true

	_, err := f.monitor.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, perrors.KindNoCredentials, perrors.KindOf(err))
}

func TestPoll_ReviseFailureRecorded(t *testing.T) {
	f := newFixture(t, Config{})
	f.reviser.err = perrors.Validation(perrors.KindMalformedOutput, "Order.java: empty revision")

	res, err := f.monitor.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Revised)
	assert.Empty(t, f.gh.puts)
	order := record(t, f.ledger, "src/Order.java")
	require.NotNil(t, order.Feedback)
	assert.Zero(t, order.Feedback.Iterations)
	assert.NotEmpty(t, order.Feedback.LastError)
	assert.Equal(t, int64(11), order.Feedback.LastCommentID)
}

func TestPoll_ResetRecordIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.monitor.reviser = reviserFunc(func(ctx context.Context, req inference.RevisionRequest) (string, error) {
		_, err := f.ledger.Reset(ctx, "src/Order.java")
		assert.NoError(t, err)
		return "class Order {}", nil
	})

	_, err := f.monitor.Poll(ctx)
	require.NoError(t, err)
	order := record(t, f.ledger, "src/Order.java")
	assert.Equal(t, ledger.StatusPending, order.Status)
	assert.Nil(t, order.Feedback)
}

type reviserFunc func(ctx context.Context, req inference.RevisionRequest) (string, error)

func (f reviserFunc) Revise(ctx context.Context, req inference.RevisionRequest) (string, error) {
	return f(ctx, req)
}
