package retriever

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/autonomy-kernel/kernel/internal/bus"
)

const (
	weightBandMin = 0.05
	weightBandMax = 0.9
	maxResultsCap = 200
)

// sanitizeWeights reverts w to DefaultWeights if any dimension falls
// outside the [0.05, 0.9] guardrail band, per SPEC_FULL.md §4.4, reporting
// whether sanitization fired.
func sanitizeWeights(w Weights) (Weights, bool) {
	dims := []float64{w.Trust, w.Recency, w.Relevance, w.Type}
	for _, d := range dims {
		if d < weightBandMin || d > weightBandMax {
			return DefaultWeights, true
		}
	}
	return w, false
}

func typeBoost(boosts map[MemoryType]float64, t MemoryType) float64 {
	if v, ok := boosts[t]; ok {
		return math.Max(0, math.Min(2, v))
	}
	if v, ok := TypeBoosts[t]; ok {
		return v
	}
	return 0.5
}

func recency(createdAt time.Time, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0.5
	}
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours / 24)
}

// effectiveTrust applies override to m's base trust score. applicable
// reflects the single overrideAllowed decision made once per rank() call,
// not re-evaluated per memory.
func effectiveTrust(m Memory, override *TrustOverride, applicable bool) float64 {
	base := 0.5
	if v, ok := m.Metadata["trust"].(float64); ok {
		base = v
	}
	if override == nil || !applicable {
		return base
	}
	return math.Max(0, math.Min(1, override.Value))
}

// publishOverrideDecision emits the single trust-override audit event for
// an attempted Query.Override, per SPEC_FULL.md §8: every attempted
// override emits exactly one event regardless of how many memories are
// ranked.
func publishOverrideDecision(ctx context.Context, b bus.Bus, override TrustOverride, applicable bool) {
	if b == nil {
		return
	}
	outcome := "applied"
	reason := ""
	if !applicable {
		outcome = "rejected"
		reason = "override policy not satisfied"
	}
	_ = b.Publish(ctx, bus.Event{
		Topic:   bus.TopicRetrievalTrustOverride,
		Payload: map[string]any{"outcome": outcome, "reason": reason},
	})
}

// overrideAllowed implements the trust override policy of SPEC_FULL.md
// §4.4:
//
//	actor != "unknown" AND
//	(source == "user" => approvedBy != "" AND reason != "") AND
//	(source in {api, automation} => approvedBy != "")
func overrideAllowed(o TrustOverride) bool {
	if o.Actor == "" || o.Actor == "unknown" {
		return false
	}
	switch o.Source {
	case "user":
		return o.ApprovedBy != "" && o.Reason != ""
	case "api", "automation":
		return o.ApprovedBy != ""
	default:
		return true
	}
}

func relevance(m Memory) float64 {
	if v, ok := m.Metadata["similarity"].(float64); ok {
		return v
	}
	return 0.5
}

// rank scores and sorts memories descending by composite score, applying
// guardrails and trust overrides, publishing audit events for any
// sanitization or override decision.
func rank(ctx context.Context, memories []Memory, q Query, b bus.Bus, now time.Time) []Memory {
	weights := DefaultWeights
	if q.Weights != nil {
		weights = *q.Weights
	}
	sanitized, fired := sanitizeWeights(weights)
	if fired && b != nil {
		_ = b.Publish(ctx, bus.Event{
			Topic:   bus.TopicRetrievalRankGuardrail,
			Payload: map[string]any{"reason": "weights_out_of_band", "requested": weights},
		})
	}
	weights = sanitized

	boosts := q.TypeBoosts
	if boosts == nil {
		boosts = TypeBoosts
	}

	overrideApplicable := false
	if q.Override != nil {
		overrideApplicable = overrideAllowed(*q.Override)
		publishOverrideDecision(ctx, b, *q.Override, overrideApplicable)
	}

	type scored struct {
		memory Memory
		score  float64
	}
	out := make([]scored, 0, len(memories))
	for _, m := range memories {
		trust := effectiveTrust(m, q.Override, overrideApplicable)
		composite := weights.Trust*trust +
			weights.Recency*recency(m.CreatedAt, now) +
			weights.Relevance*relevance(m) +
			weights.Type*typeBoost(boosts, m.Type)
		out = append(out, scored{memory: m, score: composite})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	max := q.MaxResults
	if max <= 0 || max > maxResultsCap {
		max = maxResultsCap
	}
	if len(out) > max {
		out = out[:max]
	}

	ranked := make([]Memory, len(out))
	for i, s := range out {
		ranked[i] = s.memory
	}
	return ranked
}
