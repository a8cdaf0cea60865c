package wakegate

import "strings"

// Matcher scans a token stream for a trigger phrase, per SPEC_FULL.md
// §4.11: exact or fuzzy token equality, followed by a pause of at least
// MinPostTriggerGap, with at least MinCommandLength of trailing text.
type Matcher struct {
	triggers []string
	cfg      Config
}

// NewMatcher constructs a Matcher over triggers (already user-facing
// phrases; normalization happens per-comparison).
func NewMatcher(triggers []string, cfg Config) *Matcher {
	return &Matcher{triggers: triggers, cfg: cfg.withDefaults()}
}

// Detect scans tokens for the last (most recent) trigger match that is
// followed by a sufficient pause and enough trailing text, per the spec's
// "tie-breaks prefer later matches" rule. Returns false if no trigger
// resolves into a valid command.
func (m *Matcher) Detect(tokens []Token) (Match, bool) {
	best := -1
	var bestTrigger string
	for i, tok := range tokens {
		for _, trig := range m.triggers {
			if matchesTrigger(tok.Text, trig) {
				best = i
				bestTrigger = trig
				break
			}
		}
	}
	if best == -1 {
		return Match{}, false
	}

	triggerTok := tokens[best]
	rest := tokens[best+1:]
	if len(rest) == 0 {
		return Match{}, false
	}

	gap := rest[0].Start - triggerTok.End
	if gap < m.cfg.MinPostTriggerGap {
		return Match{}, false
	}

	var words []string
	for _, t := range rest {
		words = append(words, t.Text)
	}
	command := strings.TrimSpace(strings.Join(words, " "))
	if len(command) < m.cfg.MinCommandLength {
		return Match{}, false
	}

	return Match{
		TriggerWord:    bestTrigger,
		TriggerEndTime: triggerTok.End,
		PostGap:        gap,
		Command:        command,
	}, true
}
