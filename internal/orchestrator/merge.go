package orchestrator

import (
	"fmt"

	"github.com/revuehq/revue/pkg/models"
)

// MergePolicy computes the final decision from all agent results.
// It is the scheduler's extension point: callers can plug in their own
// policy; the default is PriorityPolicy.
type MergePolicy interface {
	Compute(results []*models.AgentResult) models.MergeDecision
}

// PriorityPolicy decides by the most severe finding present:
// any blocking finding blocks, else any critical finding needs changes,
// else any warning approves with warnings, else approve.
type PriorityPolicy struct{}

// Compute implements MergePolicy.
func (PriorityPolicy) Compute(results []*models.AgentResult) models.MergeDecision {
	findings := dedupeFindings(results)

	decision := models.MergeDecision{Verdict: models.VerdictApprove}
	for _, f := range findings {
		switch f.Severity {
		case models.SeverityBlocking, models.SeverityCritical:
			decision.MustFix = append(decision.MustFix, f)
		case models.SeverityWarning:
			decision.ShouldFix = append(decision.ShouldFix, f)
		}

		switch {
		case f.Severity == models.SeverityBlocking:
			decision.Verdict = models.VerdictBlock
		case f.Severity == models.SeverityCritical && decision.Verdict != models.VerdictBlock:
			decision.Verdict = models.VerdictNeedsChanges
		case f.Severity == models.SeverityWarning && decision.Verdict == models.VerdictApprove:
			decision.Verdict = models.VerdictApproveWithWarnings
		}
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Status.Failed() {
			decision.Notes = append(decision.Notes, fmt.Sprintf("agent %s: %s (%s)", r.Agent, r.Status, r.Error))
		}
	}
	return decision
}

// dedupeFindings flattens findings across all results, deduplicating by
// (title, severity) identity. When duplicates occur across agents, the
// highest-confidence instance survives. Output order follows first
// appearance, keeping the merge deterministic.
func dedupeFindings(results []*models.AgentResult) []models.Finding {
	var order []models.FindingKey
	byKey := make(map[models.FindingKey]models.Finding)

	for _, r := range results {
		if r == nil {
			continue
		}
		for _, f := range r.Findings {
			key := f.Key()
			existing, seen := byKey[key]
			if !seen {
				order = append(order, key)
				byKey[key] = f
				continue
			}
			if f.Confidence > existing.Confidence {
				byKey[key] = f
			}
		}
	}

	out := make([]models.Finding, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}
