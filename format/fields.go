package format

// Tolerant field extraction over parsed JSON objects. The wild grammars
// use several generations of field names; every extractor takes the alias
// list in priority order and returns the first usable value.

// hasKey reports whether m carries key k with a non-null value.
func hasKey(m map[string]any, k string) bool {
	v, ok := m[k]
	return ok && v != nil
}

// stringField returns the first non-empty string value among keys.
func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// intField returns the first numeric value among keys as an int.
func intField(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return int(f), true
		}
	}
	return 0, false
}

// int64Field returns the first numeric value among keys as an int64.
func int64Field(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return int64(f), true
		}
	}
	return 0, false
}

// extraFields copies every key of m not named in consumed. Returns nil
// when nothing remains, so empty Extra maps never reach chunk records.
func extraFields(m map[string]any, consumed ...string) map[string]any {
	skip := make(map[string]struct{}, len(consumed))
	for _, k := range consumed {
		skip[k] = struct{}{}
	}

	var extra map[string]any
	for k, v := range m {
		if _, ok := skip[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}
