// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package configres resolves the effective configuration of a recording
// from the three-layer hierarchy: tenant defaults, template config and
// the per-recording override.
//
// Documents are kept in their JSON storage form (nested maps); typed
// views are derived on read. Merging never mutates its inputs.
package configres

// Merge deep-merges the given layers, lowest precedence first.
//
// Rules:
//   - maps merge key-by-key, recursively
//   - scalars and arrays are replaced, never concatenated
//   - an explicit null on a higher layer unsets the key
//   - unknown keys pass through untouched
func Merge(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k) // explicit erase
			continue
		}
		srcMap, srcIsMap := v.(map[string]any)
		if !srcIsMap {
			dst[k] = cloneValue(v)
			continue
		}
		dstMap, dstIsMap := dst[k].(map[string]any)
		if !dstIsMap {
			dstMap = map[string]any{}
		} else {
			dstMap = cloneMap(dstMap)
		}
		mergeInto(dstMap, srcMap)
		dst[k] = dstMap
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
