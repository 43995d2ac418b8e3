package orchestrator

import (
	"testing"

	"github.com/revuehq/revue/pkg/models"
)

func result(agentName string, findings ...models.Finding) *models.AgentResult {
	return &models.AgentResult{
		Agent:    agentName,
		Status:   models.ResultCompleted,
		Findings: findings,
	}
}

func TestPriorityPolicyMostSevereWins(t *testing.T) {
	policy := PriorityPolicy{}

	decision := policy.Compute([]*models.AgentResult{
		result("clean"),
		result("style", models.Finding{Title: "long function", Severity: models.SeverityWarning, Confidence: 0.6}),
		result("security", models.Finding{Title: "sql injection", Severity: models.SeverityBlocking, Confidence: 0.95}),
	})

	if decision.Verdict != models.VerdictBlock {
		t.Errorf("verdict = %s, want %s", decision.Verdict, models.VerdictBlock)
	}
	if len(decision.MustFix) != 1 || decision.MustFix[0].Title != "sql injection" {
		t.Errorf("must-fix = %+v, want the blocking finding", decision.MustFix)
	}
	if len(decision.ShouldFix) != 1 || decision.ShouldFix[0].Title != "long function" {
		t.Errorf("should-fix = %+v, want the warning", decision.ShouldFix)
	}
}

func TestPriorityPolicyVerdictLadder(t *testing.T) {
	policy := PriorityPolicy{}

	tests := []struct {
		name     string
		severity models.Severity
		want     models.Verdict
	}{
		{"warning approves with warnings", models.SeverityWarning, models.VerdictApproveWithWarnings},
		{"critical needs changes", models.SeverityCritical, models.VerdictNeedsChanges},
		{"blocking blocks", models.SeverityBlocking, models.VerdictBlock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := policy.Compute([]*models.AgentResult{
				result("a", models.Finding{Title: "t", Severity: tt.severity, Confidence: 0.5}),
			})
			if decision.Verdict != tt.want {
				t.Errorf("verdict = %s, want %s", decision.Verdict, tt.want)
			}
		})
	}
}

func TestPriorityPolicyNoFindingsApproves(t *testing.T) {
	decision := PriorityPolicy{}.Compute([]*models.AgentResult{result("a"), result("b")})
	if decision.Verdict != models.VerdictApprove {
		t.Errorf("verdict = %s, want %s", decision.Verdict, models.VerdictApprove)
	}
	if len(decision.MustFix) != 0 || len(decision.ShouldFix) != 0 {
		t.Errorf("expected empty fix lists, got must=%d should=%d", len(decision.MustFix), len(decision.ShouldFix))
	}
}

func TestPriorityPolicyNotesNonCompletedAgents(t *testing.T) {
	decision := PriorityPolicy{}.Compute([]*models.AgentResult{
		result("ok"),
		{Agent: "broken", Status: models.ResultFailed, Error: "boom"},
		{Agent: "gated", Status: models.ResultSkippedCircuitOpen, Error: "circuit open"},
		nil, // never started
	})

	if len(decision.Notes) != 2 {
		t.Fatalf("notes = %v, want exactly 2", decision.Notes)
	}
}

func TestDedupeKeepsHighestConfidence(t *testing.T) {
	shared := models.Finding{Title: "race in cache", Severity: models.SeverityCritical}

	low := shared
	low.Confidence = 0.4
	low.Agent = "first"
	high := shared
	high.Confidence = 0.9
	high.Agent = "second"

	findings := dedupeFindings([]*models.AgentResult{
		result("first", low, models.Finding{Title: "typo", Severity: models.SeverityWarning, Confidence: 0.3}),
		result("second", high),
	})

	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(findings))
	}
	// First appearance order: the shared finding came first.
	if findings[0].Title != "race in cache" || findings[0].Agent != "second" {
		t.Errorf("findings[0] = %+v, want the high-confidence duplicate in first position", findings[0])
	}
	if findings[1].Title != "typo" {
		t.Errorf("findings[1] = %+v, want the typo warning", findings[1])
	}
}

func TestDedupeSameTitleDifferentSeverityKeptSeparate(t *testing.T) {
	findings := dedupeFindings([]*models.AgentResult{
		result("a", models.Finding{Title: "leak", Severity: models.SeverityWarning, Confidence: 0.5}),
		result("b", models.Finding{Title: "leak", Severity: models.SeverityBlocking, Confidence: 0.5}),
	})
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2 (identity is title plus severity)", len(findings))
	}
}
