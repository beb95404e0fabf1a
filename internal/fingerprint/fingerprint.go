// Package fingerprint derives a stable identity for a column-header layout.
//
// Headers are folded to ASCII, lower-cased and stripped of everything
// outside [a-z0-9]; empty tokens are dropped; the rest are joined with "|"
// and hashed with MD5. Column order is significant, cosmetics are not.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const separator = "|"

// Normalize returns the identity token of a single header.
func Normalize(header string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), header)
	if err != nil {
		folded = header
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func Tokens(headers []string) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if tok := Normalize(h); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Hash returns the header hash, or ok=false when no header carries any
// identity (all blank or punctuation only).
func Hash(headers []string) (hash string, ok bool) {
	tokens := Tokens(headers)
	if len(tokens) == 0 {
		return "", false
	}
	sum := md5.Sum([]byte(strings.Join(tokens, separator)))
	return hex.EncodeToString(sum[:]), true
}

// HashValues coerces arbitrary cell values to text before hashing. nil
// values count as blank.
func HashValues(values []any) (string, bool) {
	headers := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		headers[i] = fmt.Sprint(v)
	}
	return Hash(headers)
}

// Drifted reports whether a stored hash no longer matches the one its
// expected headers produce today.
func Drifted(storedHash string, expectedHeaders []string) (current string, drift bool) {
	current, _ = Hash(expectedHeaders)
	return current, current != storedHash
}
