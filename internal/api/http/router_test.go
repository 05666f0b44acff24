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

package http

import (
	"testing"

	"refactor-pipeline/internal/api/http/middleware"
)

func TestRouter_UnknownRoute(t *testing.T) {
	s := NewRouter(NewHandler(nil, nil), nil).Build(":0")
	if got := perform(s, "GET", "/api/jobs/x", nil).Result().StatusCode(); got != 404 {
		t.Fatalf("GET /api/jobs/x status = %d, want 404", got)
	}
}

func TestRouter_LedgerNotConfigured(t *testing.T) {
	s := NewRouter(NewHandler(nil, nil), nil).Build(":0")
	for _, path := range []string{"/api/ledger/stats", "/api/ledger/failed", "/api/ledger/files/A.java"} {
		if got := perform(s, "GET", path, nil).Result().StatusCode(); got != 503 {
			t.Errorf("GET %s status = %d, want 503", path, got)
		}
	}
}

func TestRouter_RateLimit(t *testing.T) {
	s := NewRouter(NewHandler(nil, nil), middleware.NewMiddleware("", 1)).Build(":0")
	if got := perform(s, "GET", "/api/health", nil).Result().StatusCode(); got != 200 {
		t.Fatalf("first request status = %d", got)
	}
	if got := perform(s, "GET", "/api/health", nil).Result().StatusCode(); got != 429 {
		t.Fatalf("burst request status = %d, want 429", got)
	}
	if got := perform(s, "GET", "/metrics", nil).Result().StatusCode(); got != 200 {
		t.Fatalf("metrics is outside the limiter, got %d", got)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := NewRouter(NewHandler(nil, nil), nil).Build(":0")
	w := perform(s, "OPTIONS", "/api/ledger/stats", nil)
	if got := w.Result().StatusCode(); got != 204 {
		t.Fatalf("OPTIONS status = %d, want 204", got)
	}
	if got := string(w.Result().Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Fatalf("allow-origin = %q", got)
	}
}
