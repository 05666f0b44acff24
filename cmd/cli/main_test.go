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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/orchestrator"
	perrors "refactor-pipeline/pkg/errors"
)

func withOutput(t *testing.T, f string) {
	t.Helper()
	prev := outputFmt
	outputFmt = f
	t.Cleanup(func() { outputFmt = prev })
}

func sampleRecord() ledger.FileRecord {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	return ledger.FileRecord{
		Identifier:    "src/main/java/Order.java",
		Status:        ledger.StatusFailed,
		AttemptCount:  1,
		LastAttemptAt: &at,
		LastError:     &ledger.ErrorDescriptor{Kind: perrors.KindTruncationSuspected, Message: "generated 120 bytes", At: at},
		ErrorHistory:  []ledger.ErrorDescriptor{{Kind: perrors.KindTruncationSuspected, Message: "generated 120 bytes", At: at}},
	}
}

func TestRender_YAMLUsesJSONFieldNames(t *testing.T) {
	withOutput(t, "yaml")
	var buf bytes.Buffer
	require.NoError(t, render(&buf, sampleRecord(), func() string { return "" }))

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "src/main/java/Order.java", out["identifier"])
	assert.Equal(t, "failed", out["status"])
	assert.Equal(t, 1, out["attempt_count"])
}

func TestRender_JSONAndUnknown(t *testing.T) {
	withOutput(t, "json")
	var buf bytes.Buffer
	require.NoError(t, render(&buf, orchestrator.Summary{RunID: "r1", Processed: 3}, func() string { return "" }))
	var sum orchestrator.Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &sum))
	assert.Equal(t, 3, sum.Processed)

	withOutput(t, "xml")
	assert.Error(t, render(&buf, sum, func() string { return "" }))
}

func TestRenderTables(t *testing.T) {
	stats := ledger.RunStats{
		Total:            3,
		ByStatus:         map[ledger.Status]int{ledger.StatusCompleted: 2, ledger.StatusFailed: 1},
		CompletedSuggest: 2,
		FailedWillRetry:  1,
		Counters:         ledger.Counters{SmellsByType: map[string]int{"Long Method": 2, "God Class": 1}},
	}
	out := renderStats(stats)
	assert.Contains(t, out, "completed (suggest)")
	assert.Contains(t, out, "Long Method")
	assert.Less(t, strings.Index(out, "Long Method"), strings.Index(out, "God Class"), "smells sorted by count")

	assert.Contains(t, renderRecords([]ledger.FileRecord{sampleRecord()}), "truncation_suspected")
	assert.Contains(t, renderRecords(nil), "no records")
	assert.Contains(t, renderRecord(sampleRecord()), "generated 120 bytes")
	assert.Contains(t, renderSummary(orchestrator.Summary{Candidates: 4}), "nothing to process")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(perrors.NoCredentials("quota.keys", "all exhausted")))
	assert.Equal(t, 2, exitCode(perrors.CorruptState("ledger.load", "decode", nil)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestRemoteBackend(t *testing.T) {
	rec := sampleRecord()
	var gotAuth string
	var skipBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/ledger/stats":
			_ = json.NewEncoder(w).Encode(map[string]any{"backend": "file", "stats": ledger.RunStats{Total: 7}})
		case r.Method == http.MethodGet && r.URL.Path == "/api/ledger/failed":
			_ = json.NewEncoder(w).Encode(map[string]any{"files": []ledger.FileRecord{rec}, "total": 1})
		case r.Method == http.MethodGet && r.URL.Path == "/api/ledger/files/src/main/java/Order.java":
			_ = json.NewEncoder(w).Encode(rec)
		case r.Method == http.MethodPost && r.URL.Path == "/api/ledger/reset":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"ledger reset src/A.java: record is in progress"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/ledger/skip":
			_ = json.NewDecoder(r.Body).Decode(&skipBody)
			_ = json.NewEncoder(w).Encode(ledger.FileRecord{Identifier: skipBody["identifier"], Status: ledger.StatusSkipped})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"record not found"}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	b := newRemoteBackend(srv.URL, "tok")

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, "Bearer tok", gotAuth)

	failed, err := b.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, rec.Identifier, failed[0].Identifier)

	got, err := b.Get(ctx, rec.Identifier)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, got.Status)

	_, err = b.Get(ctx, "missing.java")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.Contains(t, err.Error(), "record not found")

	_, err = b.Reset(ctx, "src/A.java")
	assert.ErrorIs(t, err, ledger.ErrInFlight)

	skipped, err := b.Skip(ctx, "src/A.java")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSkipped, skipped.Status)
	assert.Equal(t, "src/A.java", skipBody["identifier"])
}
