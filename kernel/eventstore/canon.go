package eventstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ComputeEventHash implements SPEC_FULL.md §3:
//
//	eventHash = SHA-256(canonical-json({requestId,type,payload,timestamp,correlationId,prevHash}))
//
// Canonicalization recursively sorts object keys and preserves array order;
// undefined/absent values are represented as null.
func ComputeEventHash(e Event) string {
	doc := map[string]any{
		"requestId":     e.RequestID,
		"type":          string(e.Type),
		"payload":       e.Payload,
		"timestamp":     e.Timestamp.UTC().Format(timestampFormat),
		"correlationId": e.CorrelationID,
		"prevHash":      e.PrevHash,
	}
	b := CanonicalJSON(doc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// CanonicalJSON serializes v deterministically: object keys are sorted
// recursively, array order is preserved, and nil is encoded as JSON null.
// The result is stable under key reordering and insignificant whitespace in
// the input, satisfying the "hash determinism" testable property of
// SPEC_FULL.md §8.
func CanonicalJSON(v any) []byte {
	b, err := json.Marshal(canonicalize(v))
	if err != nil {
		// canonicalize only ever produces json.Marshal-safe values
		// (maps/slices/primitives), so this cannot happen for well-formed
		// event payloads.
		panic("eventstore: canonical json marshal failed: " + err.Error())
	}
	return b
}

// canonicalize recursively rewrites v so that map keys are visited in sorted
// order by reconstructing an ordered representation json.Marshal will still
// render with sorted keys (encoding/json already sorts map[string]any keys,
// but canonicalize additionally normalizes nested maps of arbitrary
// underlying map types, so the behavior does
// not depend on the standard library's key-sorting being relied upon
// implicitly elsewhere in the kernel).
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalize(e)
		}
		return out
	case nil:
		return nil
	default:
		return normalizeScalar(val)
	}
}

// normalizeScalar re-encodes non-map/slice values through JSON round-trip so
// struct types and other map-like types (e.g. map[string]string) are
// normalized into the same canonical shape as map[string]any/[]any.
func normalizeScalar(v any) any {
	switch v.(type) {
	case string, bool, float64, int, int64, uint64, nil:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return nil
		}
		if generic == nil {
			return nil
		}
		return canonicalize(generic)
	}
}
