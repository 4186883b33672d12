package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Signature digests the canonical rendering of the tracked fields into a
// fixed-width hex string. Equal field sets always produce byte-identical
// signatures, across process restarts, which is what makes signatures from
// stored rows directly comparable to freshly computed ones.
func Signature(f InterestingFields) string {
	m := f.Canonical()

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
