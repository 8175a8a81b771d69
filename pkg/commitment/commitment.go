// Copyright 2025 ATEL Network
//
// Package commitment provides the canonical-JSON and hashing primitives
// that every ATPC signature and hash operates over. Nearly every
// component depends on it: identity signs canonicalized values, envelopes
// are signed over their canonical form, trace events hash their data field,
// and proof bundles commit to policy/consent/result via canonical hashes.
//
// Canonicalization is deliberately hand-rolled rather than delegated to
// encoding/json's default behavior: object keys must sort recursively by
// Unicode code point, arrays must preserve order, and there must be no
// insignificant whitespace. encoding/json's map marshaling already sorts
// string keys, which this package leans on, but struct values must first
// be round-tripped through a generic decode so their field order (which
// json.Marshal preserves verbatim) does not leak into the canonical form.
package commitment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Canonicalize serializes v to its canonical JSON form: recursively
// sorted object keys, preserved array order, no insignificant whitespace,
// numbers in their canonical JSON rendering.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON takes arbitrary JSON bytes and returns the canonical
// encoding: deterministic key order, stable number formatting, no
// whitespace. json.Number is used during decode so integer and
// high-precision values survive the round trip unchanged.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	canonical := canonicalizeValue(v)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; the canonical form
	// has no insignificant whitespace at all.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
func canonicalizeValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]any, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return ordered
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// WithoutField marshals v, drops the named top-level field, and returns
// the remaining object as a generic map — used to canonicalize a signed
// object "with signature absent" before computing or verifying a
// signature over it.
func WithoutField(v any, field string) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	delete(m, field)
	return m, nil
}

// HashBytes returns the SHA-256 digest of data.
func HashBytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashHex returns the hex-encoded SHA-256 digest of the concatenation of
// parts.
func HashHex(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashCanonical canonicalizes v and returns its SHA-256 digest.
func HashCanonical(v any) ([32]byte, error) {
	raw, err := Canonicalize(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(raw), nil
}

// HashCanonicalHex is HashCanonical with a hex-encoded result.
func HashCanonicalHex(v any) (string, error) {
	h, err := HashCanonical(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}
