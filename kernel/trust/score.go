// Package trust implements the TrustScorer and MemoryGate (components C3/C4)
// of SPEC_FULL.md §4.3: scoring inbound content across four dimensions and
// gating writes into memory based on the aggregate score.
package trust

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"
)

// Score is the TrustScore of SPEC_FULL.md §3.
type Score struct {
	SourceReliability    float64
	ContentConsistency   float64
	TemporalCoherence    float64
	InstructionAlignment float64
	Aggregate            float64
}

// Weights configures the aggregate's weighted mean. Zero-value Weights means
// "equal weights" (the Scorer's default).
type Weights struct {
	SourceReliability    float64
	ContentConsistency   float64
	TemporalCoherence    float64
	InstructionAlignment float64
}

func (w Weights) normalized() Weights {
	if w.SourceReliability == 0 && w.ContentConsistency == 0 && w.TemporalCoherence == 0 && w.InstructionAlignment == 0 {
		return Weights{0.25, 0.25, 0.25, 0.25}
	}
	return w
}

// Content is the input to Scorer.Score.
type Content struct {
	SourceID  string
	Source    string // e.g. "system", "user", "api", "automation"
	Text      string
	Timestamp time.Time
	// PriorTimestamp, when non-zero, is the timestamp of the immediately
	// preceding message from the same sender, used for temporal coherence.
	PriorTimestamp time.Time
}

// Analyzer is an optional LLM-backed content consistency check. When absent,
// Scorer falls back to a pure rule-based heuristic.
type Analyzer interface {
	// AnalyzeConsistency returns a [0,1] consistency score for text; higher
	// is more consistent/trustworthy.
	AnalyzeConsistency(ctx context.Context, text string) (float64, error)
}

// injectionPatterns are known prompt-injection/command-override phrasings.
// Matches reduce ContentConsistency sharply, mirroring spec's "flags known
// injection patterns" rule.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)disregard (the )?(system|prior) prompt`),
	regexp.MustCompile(`(?i)you are now (in )?(developer|debug|unfiltered|jailbreak) mode`),
	regexp.MustCompile(`(?i)reveal (your|the) (system prompt|instructions)`),
	regexp.MustCompile(`(?i)act as (if you (had|have) no|an unrestricted)`),
}

// Scorer computes a Score for Content.
type Scorer struct {
	analyzer Analyzer
	weights  Weights
	tracker  *ReliabilityTracker
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithAnalyzer installs an optional LLM-backed consistency analyzer.
func WithAnalyzer(a Analyzer) ScorerOption {
	return func(s *Scorer) { s.analyzer = a }
}

// WithWeights overrides the default equal weighting.
func WithWeights(w Weights) ScorerOption {
	return func(s *Scorer) { s.weights = w.normalized() }
}

// WithReliabilityTracker installs a shared ReliabilityTracker; if omitted, a
// fresh one is created.
func WithReliabilityTracker(t *ReliabilityTracker) ScorerOption {
	return func(s *Scorer) { s.tracker = t }
}

// NewScorer constructs a Scorer with default equal weights and a fresh
// ReliabilityTracker unless overridden.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{weights: Weights{0.25, 0.25, 0.25, 0.25}}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = NewReliabilityTracker(0.2)
	}
	return s
}

// Tracker exposes the Scorer's ReliabilityTracker so callers can record
// feedback on prior decisions.
func (s *Scorer) Tracker() *ReliabilityTracker { return s.tracker }

// Score computes the four-dimension TrustScore for c.
func (s *Scorer) Score(ctx context.Context, c Content) Score {
	sourceReliability := s.tracker.Reliability(c.SourceID, c.Source)
	contentConsistency := s.contentConsistency(ctx, c.Text)
	temporalCoherence := temporalCoherence(c)
	instructionAlignment := instructionAlignment(c.Text)

	score := Score{
		SourceReliability:    sourceReliability,
		ContentConsistency:   contentConsistency,
		TemporalCoherence:    temporalCoherence,
		InstructionAlignment: instructionAlignment,
	}
	w := s.weights.normalized()
	sum := w.SourceReliability + w.ContentConsistency + w.TemporalCoherence + w.InstructionAlignment
	if sum == 0 {
		sum = 1
	}
	score.Aggregate = (w.SourceReliability*sourceReliability +
		w.ContentConsistency*contentConsistency +
		w.TemporalCoherence*temporalCoherence +
		w.InstructionAlignment*instructionAlignment) / sum
	return score
}

func (s *Scorer) contentConsistency(ctx context.Context, text string) float64 {
	if s.analyzer != nil {
		if v, err := s.analyzer.AnalyzeConsistency(ctx, text); err == nil {
			return clamp01(v)
		}
		// Analyzer failure falls back to the rule-based heuristic rather than
		// failing the whole score.
	}
	return ruleBasedConsistency(text)
}

// ruleBasedConsistency flags known injection patterns and length anomalies.
func ruleBasedConsistency(text string) float64 {
	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			return 0.1
		}
	}
	score := 0.9
	n := len(strings.TrimSpace(text))
	switch {
	case n == 0:
		score = 0.5
	case n > 8000:
		// Extreme length anomaly: payload stuffing / exfiltration attempts
		// tend toward unusually long bodies.
		score -= 0.3
	case n < 3:
		score -= 0.1
	}
	return clamp01(score)
}

// temporalCoherence rewards monotonic, plausibly-paced message cadence.
func temporalCoherence(c Content) float64 {
	if c.Timestamp.IsZero() {
		return 0.5
	}
	if c.PriorTimestamp.IsZero() {
		return 0.8
	}
	delta := c.Timestamp.Sub(c.PriorTimestamp)
	if delta < 0 {
		// Clock moved backwards: non-monotonic, strongly suspicious.
		return 0.1
	}
	if delta == 0 {
		return 0.6
	}
	// Cadence within a plausible human/agent range decays gently with
	// extremes in either direction (near-instant floods or multi-day gaps).
	seconds := delta.Seconds()
	switch {
	case seconds < 0.05:
		return 0.3
	case seconds > 86400*7:
		return 0.6
	default:
		return 0.9
	}
}

var triggerKeywords = []string{
	"ignore previous", "system prompt", "sudo", "override safety",
	"bypass", "jailbreak", "do anything now", "developer mode",
}

// instructionAlignment penalizes containment of trigger/command phrasings
// characteristic of prompt-injection templates.
func instructionAlignment(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range triggerKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			hits++
		}
	}
	if hits == 0 {
		return 0.9
	}
	return clamp01(0.9 - float64(hits)*0.3)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
