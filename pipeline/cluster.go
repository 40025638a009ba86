// Package pipeline implements the reflection-to-insight-to-task loop:
// reflections are clustered into insights, insights are scored, and
// qualifying insights are promoted into tasks through the bridge.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
)

// painDigestLen bounds how much of the normalized pain text feeds the key.
const painDigestLen = 120

// ClusterKey derives the stable clustering key for a reflection: sorted
// normalized tags plus a digest of the normalized pain text, hashed. Two
// reflections about the same pain land in the same cluster even when the
// wording differs in case, punctuation or spacing.
func ClusterKey(tags []string, pain string) string {
	normTags := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		normTags = append(normTags, tag)
	}
	sort.Strings(normTags)

	digest := normalizePain(pain)
	if len(digest) > painDigestLen {
		digest = digest[:painDigestLen]
	}

	h := sha256.Sum256([]byte(strings.Join(normTags, ",") + "|" + digest))
	return hex.EncodeToString(h[:])[:16]
}

// normalizePain lowercases, strips punctuation and collapses whitespace.
func normalizePain(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// Dropped, but the gap stays a word boundary so
			// "timing-out" and "timing out" normalize alike.
			space = true
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
