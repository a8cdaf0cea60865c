package retriever

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// contentHashPrefixLen is the minimum text length folded into the hash
// before the trailing-segment marker kicks in, per SPEC_FULL.md §4.4.
const contentHashPrefixLen = 200

// contentHash implements the dedup key of SPEC_FULL.md §4.4:
//
//	sha256(memoryType + "|" + whitespaceNormalized(text))
//
// truncated to the first 200 characters but with a marker appended so two
// long texts that agree on their first 200 characters and differ only after
// that boundary still hash differently. Returns "" for memories with no
// text, which the caller must always pass through deduplication.
func contentHash(m Memory) string {
	normalized := normalizeWhitespace(m.Text)
	if normalized == "" {
		return ""
	}
	basis := string(m.Type) + "|" + normalized
	h := sha256.New()
	if len(basis) <= contentHashPrefixLen {
		h.Write([]byte(basis))
	} else {
		h.Write([]byte(basis[:contentHashPrefixLen]))
		// Trailing-segment marker: fold in a hash of the remainder so texts
		// differing only past the truncation boundary don't collide.
		rest := sha256.Sum256([]byte(basis[contentHashPrefixLen:]))
		h.Write(rest[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// dedupe merges two memory slices, dropping later duplicates by content
// hash. Null-hashed (no-text) memories always pass through unconditionally.
func dedupe(sets ...[]Memory) []Memory {
	seen := make(map[string]struct{})
	out := make([]Memory, 0)
	for _, set := range sets {
		for _, m := range set {
			hash := contentHash(m)
			if hash == "" {
				out = append(out, m)
				continue
			}
			if _, dup := seen[hash]; dup {
				continue
			}
			seen[hash] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}
