package verifier

import (
	"context"
	"fmt"
)

// PartialWriteResult is the shape a tool's Result value must assert when it
// reports a partial write, consumed by NoPartialWriteCheck.
type PartialWriteResult interface {
	PartialWrite() bool
}

// NoPartialWriteCheck fails critically when a reversible-tool's result
// reports a partial write, per SPEC_FULL.md §4.5's built-in check set.
func NoPartialWriteCheck(_ context.Context, in Input) (CheckResult, error) {
	pw, ok := in.Result.(PartialWriteResult)
	if !ok || !pw.PartialWrite() {
		return CheckResult{Name: "no_partial_write", Status: StatusPassed, Severity: SeverityInfo}, nil
	}
	return CheckResult{
		Name:            "no_partial_write",
		Status:          StatusFailed,
		Severity:        SeverityCritical,
		Detail:          fmt.Sprintf("tool %q reported a partial write", in.Tool),
		FailureTaxonomy: "partial_write",
	}, nil
}

// Analyzer is the subset of trust.Analyzer an LLM-backed check depends on,
// restated locally to avoid an import cycle between verifier and trust.
type Analyzer interface {
	AnalyzeConsistency(ctx context.Context, text string) (float64, error)
}

// LLMJudgeCheck builds a CheckFunc that asks analyzer to review a free-form
// rendering of the tool's result, failing with warning severity below
// passThreshold and critical severity below failThreshold.
func LLMJudgeCheck(analyzer Analyzer, render func(Input) string, passThreshold, failThreshold float64) CheckFunc {
	return func(ctx context.Context, in Input) (CheckResult, error) {
		text := render(in)
		score, err := analyzer.AnalyzeConsistency(ctx, text)
		if err != nil {
			return CheckResult{}, fmt.Errorf("llm judge check: %w", err)
		}
		switch {
		case score >= passThreshold:
			return CheckResult{Name: "llm_judge", Status: StatusPassed, Severity: SeverityInfo, Detail: fmt.Sprintf("score=%.2f", score)}, nil
		case score >= failThreshold:
			return CheckResult{Name: "llm_judge", Status: StatusWarning, Severity: SeverityWarning, Detail: fmt.Sprintf("score=%.2f", score)}, nil
		default:
			return CheckResult{
				Name:            "llm_judge",
				Status:          StatusFailed,
				Severity:        SeverityCritical,
				Detail:          fmt.Sprintf("score=%.2f", score),
				FailureTaxonomy: "llm_judge_rejected",
			}, nil
		}
	}
}
