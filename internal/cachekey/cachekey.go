// Package cachekey computes weak, strict and strong cache keys for an
// element, per the core spec's cache-key engine (§4.3). It is grounded
// in buildstream's _cachekey/cachekey.py and
// _cachekeycontroller/{cachekeycontroller,nonstrictcachekeycontroller}.py:
// the same three-tier key scheme, reimplemented with Go's
// encoding/json plus a canonicalizing sort instead of ujson's
// sort_keys option.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// KeySize is the fixed width of every cache key: a lowercase hex
// sha256 digest, 64 characters.
const KeySize = sha256.Size * 2

// Unresolved is the sentinel returned whenever a key cannot yet be
// computed because a dependency's key is not yet available.
const Unresolved = ""

// IsKey reports whether s could be a cache key: the right length, and
// entirely lowercase hex, matching buildstream's is_key().
func IsKey(s string) bool {
	if len(s) != KeySize {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// ConfigDict is the canonical representation of everything that
// affects an element's output: resolved variables, environment (sans
// environment-nocache entries), public data, sources' unique keys,
// kind, and sandbox config. It is the input to GenerateKey once
// dependency keys are appended under the "dependencies" key.
type ConfigDict map[string]any

// GenerateKey produces a cache key from value: a canonical
// (sorted-keys, deterministic-number-encoding) JSON serialization fed
// to sha256, hex-encoded lowercase. Equivalent to
// buildstream's generate_key() (node_sanitize + ujson.dumps(sort_keys=True)
// + sha256).
func GenerateKey(value any) string {
	canon := canonicalize(value)
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalize rewrites value for deterministic encoding: Go's
// json.Marshal already sorts map[string]any keys, so nested maps and
// []any slices are copied recursively, and []string values are sorted
// so their order does not affect the key. Numbers and other scalars
// are passed through unchanged.
func canonicalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalize(v[k])
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = canonicalize(e)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		sort.Strings(out)
		return out
	default:
		return v
	}
}

// calculateCacheKey mirrors buildstream's CacheKeyController._calculate_cache_key:
// any missing (Unresolved) dependency key makes the whole computation
// Unresolved.
func calculateCacheKey(dict ConfigDict, dependencies []string) string {
	for _, d := range dependencies {
		if d == Unresolved {
			return Unresolved
		}
	}
	merged := make(map[string]any, len(dict)+1)
	for k, v := range dict {
		merged[k] = v
	}
	merged["dependencies"] = dependencies
	return GenerateKey(merged)
}

// Dep describes one build-dependency's contribution to a key
// computation: its plain name (for the non-strict-rebuild weak key)
// and its weak/strict/strong keys (for everything else).
type Dep struct {
	Name   string
	Weak   string
	Strict string
	Strong string
}

// WeakKey computes the weak key per core spec §3: config plus either
// dependency names (default) or dependency weak keys (when
// strictRebuild is set). Returns Unresolved if any required dependency
// key is itself Unresolved.
func WeakKey(dict ConfigDict, deps []Dep, strictRebuild bool) string {
	var inputs []string
	if strictRebuild {
		for _, d := range deps {
			inputs = append(inputs, d.Weak)
		}
	} else {
		names := make([]string, 0, len(deps))
		for _, d := range deps {
			names = append(names, d.Name)
		}
		sort.Strings(names)
		inputs = names
	}
	return calculateCacheKey(dict, inputs)
}

// StrictKey computes the strict key: config plus the strict keys of
// all build-deps, transitively already folded into d.Strict by the
// caller (core spec §3: "transitive closure via recursion").
func StrictKey(dict ConfigDict, deps []Dep) string {
	inputs := make([]string, 0, len(deps))
	for _, d := range deps {
		inputs = append(inputs, d.Strict)
	}
	return calculateCacheKey(dict, inputs)
}

// StrongKeyFromDeps computes the strong key from dependency strong
// keys, for the path where an element is about to be built fresh
// under the non-strict policy (core spec §4.3 step 3).
func StrongKeyFromDeps(dict ConfigDict, deps []Dep) string {
	inputs := make([]string, 0, len(deps))
	for _, d := range deps {
		inputs = append(inputs, d.Strong)
	}
	return calculateCacheKey(dict, inputs)
}
