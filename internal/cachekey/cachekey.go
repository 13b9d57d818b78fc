// Package cachekey derives deterministic cache keys from generation inputs.
// Formatting-only differences in a prompt collapse to the same key; any byte
// difference in an image payload yields a different key.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
)

// maxPromptChars bounds the normalized prompt so pathological inputs cannot
// blow up key length. Truncation happens after normalization.
const maxPromptChars = 500

// Normalize canonicalizes a prompt: surrounding whitespace is trimmed, case
// is folded, internal whitespace runs collapse to single spaces and the
// result is capped at maxPromptChars runes. An empty or absent prompt
// normalizes to the empty string.
func Normalize(prompt string) string {
	fields := strings.Fields(prompt)
	if len(fields) == 0 {
		return ""
	}
	s := cases.Fold().String(strings.Join(fields, " "))
	if runes := []rune(s); len(runes) > maxPromptChars {
		s = string(runes[:maxPromptChars])
	}
	return s
}

// Text derives the cache key for a text-to-3D request.
func Text(prompt string) string {
	return "text:" + Normalize(prompt)
}

// Image derives the cache key for an image-to-3D request. The key combines a
// content digest of the uploaded bytes with the normalized companion prompt,
// so identical content under different filenames still matches.
func Image(data []byte, prompt string) string {
	return ImageFromDigest(Digest(data), prompt)
}

// ImageFromDigest rebuilds an image cache key from an already computed
// digest, for lookups that do not carry the original bytes.
func ImageFromDigest(digest, prompt string) string {
	return "image:" + digest + ":" + Normalize(prompt)
}

// Digest returns the hex sha-256 content digest used inside image keys.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
