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

package decision

import (
	"strings"
	"testing"

	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/internal/smell"
	perrors "refactor-pipeline/pkg/errors"
)

func smelly(methods ...string) smell.Detection {
	return smell.Detection{HasSmells: true, Smells: []smell.Smell{{Type: "Long Method", Severity: "high", AffectedMethods: methods}}}
}

func TestDecide(t *testing.T) {
	e := NewEngine(0)
	tests := []struct {
		name     string
		det      smell.Detection
		sig      Signals
		want     Outcome
		overflow bool
	}{
		{"no smells", smell.Detection{}, Signals{Inheritance: true}, OutcomeSkip, false},
		{"has_smells without entries", smell.Detection{HasSmells: true}, Signals{}, OutcomeSkip, false},
		{"clean single file", smelly("helper"), Signals{InputBytes: 4000}, OutcomeFix, false},
		{"public surface", smelly("run"), Signals{PublicSurface: true}, OutcomeSuggest, false},
		{"inheritance", smelly(), Signals{Inheritance: true}, OutcomeSuggest, false},
		{"di annotations", smelly(), Signals{DIAnnotations: true}, OutcomeSuggest, false},
		{"external declaration", smelly(), Signals{ExternalDeclaration: true}, OutcomeSuggest, false},
		{"overflow", smelly(), Signals{InputBytes: 24000}, OutcomeSuggest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Decide(tt.det, tt.sig)
			if v.Outcome != tt.want {
				t.Errorf("Outcome = %v, want %v (reasons %v)", v.Outcome, tt.want, v.Reasons)
			}
			if v.Overflow != tt.overflow {
				t.Errorf("Overflow = %v, want %v", v.Overflow, tt.overflow)
			}
		})
	}
}

func TestDecide_MultiFileImpactAlwaysSuggests(t *testing.T) {
	e := NewEngine(DefaultTokenCeiling)
	contents := []smell.Detection{
		smelly(),
		{HasSmells: true, Smells: []smell.Smell{{Type: "God Class", Severity: "low"}, {Type: "Data Clumps", Severity: "critical"}}},
		{HasSmells: true, Smells: []smell.Smell{{Type: "Feature Envy"}}, Scope: smell.ScopeSingleFile},
	}
	signals := []Signals{{PublicSurface: true}, {Inheritance: true}, {DIAnnotations: true}, {ExternalDeclaration: true}}
	for _, det := range contents {
		for _, sig := range signals {
			if got := e.Decide(det, sig).Outcome; got != OutcomeSuggest {
				t.Fatalf("Decide(%+v, %+v) = %v, want suggest", det, sig, got)
			}
		}
	}
}

func TestEstimateTokensMonotone(t *testing.T) {
	one := smelly("a")
	two := smell.Detection{HasSmells: true, Smells: append(one.Smells, smell.Smell{Type: "God Class"})}
	if EstimateTokens(1000, one) >= EstimateTokens(2000, one) {
		t.Error("estimate must grow with input size")
	}
	if EstimateTokens(1000, one) >= EstimateTokens(1000, two) {
		t.Error("estimate must grow with transformation scope")
	}
}

func TestReconcile(t *testing.T) {
	e := NewEngine(0)
	fix := Verdict{Outcome: OutcomeFix}
	suggest := Verdict{Outcome: OutcomeSuggest}

	if m, err := e.Reconcile(fix, ArtifactCode); err != nil || m != ledger.ModeFix {
		t.Errorf("fix+code = %v, %v", m, err)
	}
	if m, err := e.Reconcile(fix, ArtifactSuggestion); err != nil || m != ledger.ModeSuggest {
		t.Errorf("fix+self-declared multi-file should resolve to suggest, got %v, %v", m, err)
	}
	if m, err := e.Reconcile(suggest, ArtifactSuggestion); err != nil || m != ledger.ModeSuggest {
		t.Errorf("suggest+suggestion = %v, %v", m, err)
	}
	if _, err := e.Reconcile(suggest, ArtifactCode); !perrors.IsKind(err, perrors.KindMalformedOutput) {
		t.Errorf("suggest+code should be malformed, got %v", err)
	}
	if _, err := e.Reconcile(fix, ArtifactMalformed); !perrors.IsKind(err, perrors.KindMalformedOutput) {
		t.Errorf("missing sentinel must be a validation failure, got %v", err)
	}
}

const sampleJava = `package com.acme.billing;

import org.springframework.stereotype.Service;

/* public void commented(int x) */
public class InvoiceService extends BaseService implements Auditable {
    @Autowired
    private Repo repo;

    public Invoice create(String customer, Map<String, Integer> lines) { return null; }
    protected static List<Invoice> list(final int page) { return null; }
    private void recompute(int a, int b) { }
}
`

func TestCollectSignals(t *testing.T) {
	sig := CollectSignals(sampleJava, smelly("create"))
	if !sig.PublicSurface || !sig.Inheritance || !sig.DIAnnotations {
		t.Errorf("signals = %+v", sig)
	}
	if sig.ExternalDeclaration {
		t.Error("no related files declared")
	}
	if sig.InputBytes != len(sampleJava) {
		t.Errorf("InputBytes = %d", sig.InputBytes)
	}

	plain := "public class Util {\n  private int add(int a, int b) { return a + b; }\n}\n"
	sig = CollectSignals(plain, smelly("add"))
	if sig.MultiFileImpact() {
		t.Errorf("private-only change should have no multi-file impact: %+v", sig)
	}
	sig = CollectSignals(plain, smell.Detection{HasSmells: true, RelatedFiles: []string{"Other.java"}})
	if !sig.ExternalDeclaration {
		t.Error("related files should set external declaration")
	}
}

func TestPublicSignatures(t *testing.T) {
	sigs := PublicSignatures(sampleJava)
	joined := strings.Join(sigs, "\n")
	if len(sigs) != 2 {
		t.Fatalf("PublicSignatures = %v", sigs)
	}
	if !strings.Contains(joined, "public Invoice create(String,Map<String,Integer>)") {
		t.Errorf("missing create signature: %s", joined)
	}
	if !strings.Contains(joined, "protected List<Invoice> list(int)") {
		t.Errorf("missing list signature: %s", joined)
	}
	if strings.Contains(joined, "commented") {
		t.Error("commented-out method should be ignored")
	}
}
