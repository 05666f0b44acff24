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

package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWriterLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewWriterLogger(&buf, &Config{Level: "info"}).Info("hello", "file", "A.java")
	if !strings.Contains(buf.String(), `"file":"A.java"`) {
		t.Errorf("json output: %s", buf.String())
	}
	buf.Reset()
	NewWriterLogger(&buf, &Config{Format: "text"}).With("run", "r1").Info("hello")
	if !strings.Contains(buf.String(), "run=r1") {
		t.Errorf("text output: %s", buf.String())
	}
	buf.Reset()
	NewWriterLogger(&buf, &Config{Level: "error"}).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at error level: %s", buf.String())
	}
}
