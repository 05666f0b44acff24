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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/orchestrator"
)

var styles = struct {
	title lipgloss.Style
	label lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	box   lipgloss.Style
}{
	title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#20B9B4")),
	label: lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("#8A9BA8")),
	muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#5C6B73")),
	ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7")),
	warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F")),
	fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")),
	box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#16858E")).
		Padding(0, 1),
}

// render 按 --output 输出；table 时调用 table()
func render(w io.Writer, v any, table func() string) error {
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// 先经 JSON 保证字段名与 API 一致
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	case "", "table":
		_, err := fmt.Fprintln(w, table())
		return err
	default:
		return fmt.Errorf("unknown output format %q", outputFmt)
	}
}

func statusStyle(s ledger.Status) lipgloss.Style {
	switch s {
	case ledger.StatusCompleted, ledger.StatusSkipped:
		return styles.ok
	case ledger.StatusFailed, ledger.StatusInProgress:
		return styles.warn
	case ledger.StatusPermanentlyFailed:
		return styles.fail
	}
	return styles.muted
}

func row(label string, value any) string {
	return styles.label.Render(label) + fmt.Sprint(value)
}

func renderStats(s ledger.RunStats) string {
	lines := []string{
		styles.title.Render("Ledger"),
		row("records", s.Total),
		row("completed (fix)", s.CompletedFix),
		row("completed (suggest)", s.CompletedSuggest),
		row("failed, will retry", s.FailedWillRetry),
		row("permanently failed", s.PermanentlyFailed),
		row("runs", s.Runs),
		row("api calls", s.Counters.QuotaUsage),
		row("handoffs", s.Counters.Handoffs),
	}
	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	if len(statuses) > 0 {
		lines = append(lines, "", styles.title.Render("By status"))
		for _, st := range statuses {
			lines = append(lines, styles.label.Render(st)+statusStyle(ledger.Status(st)).Render(fmt.Sprint(s.ByStatus[ledger.Status(st)])))
		}
	}
	if len(s.Counters.SmellsByType) > 0 {
		types := make([]string, 0, len(s.Counters.SmellsByType))
		for t := range s.Counters.SmellsByType {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool {
			a, b := s.Counters.SmellsByType[types[i]], s.Counters.SmellsByType[types[j]]
			if a != b {
				return a > b
			}
			return types[i] < types[j]
		})
		lines = append(lines, "", styles.title.Render("Smells"))
		for _, t := range types {
			lines = append(lines, row(t, s.Counters.SmellsByType[t]))
		}
	}
	if s.LastRun != nil {
		lines = append(lines, "", styles.title.Render("Last run"),
			row("id", s.LastRun.RunID),
			row("started", s.LastRun.StartedAt.Format(time.RFC3339)),
			row("processed", s.LastRun.FilesProcessed),
			row("result", s.LastRun.Result))
	}
	return styles.box.Render(strings.Join(lines, "\n"))
}

func renderRecords(recs []ledger.FileRecord) string {
	if len(recs) == 0 {
		return styles.muted.Render("no records")
	}
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(statusStyle(r.Status).Render(fmt.Sprintf("%-20s", r.Status)))
		fmt.Fprintf(&b, " %d  %s", r.AttemptCount, r.Identifier)
		if r.LastError != nil {
			b.WriteString(styles.muted.Render("  [" + string(r.LastError.Kind) + "] " + truncate(r.LastError.Message, 80)))
		}
	}
	return b.String()
}

func renderRecord(r ledger.FileRecord) string {
	lines := []string{
		styles.title.Render(r.Identifier),
		row("status", statusStyle(r.Status).Render(string(r.Status))),
		row("attempts", r.AttemptCount),
	}
	if r.ModeDecided != ledger.ModeNone {
		lines = append(lines, row("mode", r.ModeDecided))
	}
	if r.Downgraded() {
		lines = append(lines, row("final mode", styles.warn.Render(string(r.ModeFinal))))
	}
	if r.Feedback != nil {
		lines = append(lines, row("review", fmt.Sprintf("#%d %s, %d revisions", r.Feedback.PRNumber, r.Feedback.State, r.Feedback.Iterations)))
	}
	if r.LastAttemptAt != nil {
		lines = append(lines, row("last attempt", r.LastAttemptAt.Format(time.RFC3339)))
	}
	if len(r.SmellTypes) > 0 {
		lines = append(lines, row("smells", strings.Join(r.SmellTypes, ", ")))
	}
	if r.HandoffRef != "" {
		lines = append(lines, row("handoff", r.HandoffRef))
	}
	if r.HandoffError != "" {
		lines = append(lines, row("handoff error", styles.fail.Render(r.HandoffError)))
	}
	if len(r.ErrorHistory) > 0 {
		lines = append(lines, "", styles.title.Render("Errors"))
		for _, e := range r.ErrorHistory {
			lines = append(lines, fmt.Sprintf("%s  %s  %s", e.At.Format(time.RFC3339), styles.warn.Render(string(e.Kind)), truncate(e.Message, 100)))
		}
	}
	return styles.box.Render(strings.Join(lines, "\n"))
}

func renderSummary(s orchestrator.Summary) string {
	if s.RunID == "" {
		return styles.muted.Render(fmt.Sprintf("nothing to process (%d candidates)", s.Candidates))
	}
	lines := []string{
		styles.title.Render("Run " + s.RunID),
		row("candidates", s.Candidates),
		row("selected", s.Selected),
		row("completed (fix)", styles.ok.Render(fmt.Sprint(s.CompletedFix))),
		row("completed (suggest)", styles.ok.Render(fmt.Sprint(s.CompletedSuggest))),
		row("skipped", s.Skipped),
		row("failed, will retry", styles.warn.Render(fmt.Sprint(s.FailedWillRetry))),
		row("permanently failed", styles.fail.Render(fmt.Sprint(s.PermanentlyFailed))),
		row("handoffs", s.Handoffs),
		row("duration", s.Duration.Round(time.Millisecond)),
	}
	if s.Canceled {
		lines = append(lines, styles.warn.Render("canceled before all selected records were claimed"))
	}
	return styles.box.Render(strings.Join(lines, "\n"))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
