package record

import "encoding/json"

// Matches reports whether payload is a structural superset of predicate:
// every predicate key exists in the payload, nested maps match recursively,
// arrays match element for element, and leaves compare after numeric
// normalization (a stored 2 and a queried 2.0 are the same value, since
// stored payloads round-trip through JSON). A nil or empty predicate
// matches any payload.
func Matches(payload, predicate Payload) bool {
	return supersetMatch(map[string]any(payload), map[string]any(predicate))
}

func supersetMatch(have, want map[string]any) bool {
	for k, w := range want {
		h, ok := have[k]
		if !ok {
			return false
		}
		if !valueMatch(h, w) {
			return false
		}
	}
	return true
}

func valueMatch(h, w any) bool {
	if hm, ok := asMap(h); ok {
		wm, ok := asMap(w)
		if !ok {
			return false
		}
		return supersetMatch(hm, wm)
	}

	if ha, ok := h.([]any); ok {
		wa, ok := w.([]any)
		if !ok || len(ha) != len(wa) {
			return false
		}
		for i := range ha {
			if !valueMatch(ha[i], wa[i]) {
				return false
			}
		}
		return true
	}

	return normalizeLeaf(h) == normalizeLeaf(w)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	}
	return nil, false
}

// normalizeLeaf widens numeric types to float64, the representation JSON
// decoding produces, so values written as int compare equal after storage.
func normalizeLeaf(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return string(n)
		}
		return f
	default:
		return v
	}
}
