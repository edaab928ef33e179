// Package dedup implements two-tier duplicate detection: exact SHA-256
// content hashing and simhash-based near-duplicate detection over a bounded
// window of recent candidates.
package dedup

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/bits"

	"github.com/trendwire/ingest/internal/textproc"
)

// maxHammingDistance is returned for unparseable fingerprints so malformed
// stored values fail open as "not a duplicate".
const maxHammingDistance = 64

// HashContent returns the hex SHA-256 digest used as the exact-match dedup
// key.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Simhash computes a 64-bit locality-sensitive fingerprint of the text,
// hex-encoded. Near-identical texts produce fingerprints within a few bits of
// each other. Returns "" when no token survives tokenization; such texts are
// never near-duplicate candidates.
func Simhash(text string) string {
	tokens := textproc.Tokenize(text)
	if len(tokens) == 0 {
		return ""
	}
	var votes [64]int
	for _, tok := range tokens {
		h := hashToken64(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(63-i)) != 0 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}
	var out uint64
	for i := 0; i < 64; i++ {
		if votes[i] >= 0 {
			out |= 1 << uint(63-i)
		}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], out)
	return hex.EncodeToString(buf[:])
}

func hashToken64(token string) uint64 {
	sum := sha1.Sum([]byte(token))
	return binary.BigEndian.Uint64(sum[:8])
}

// HammingDistance counts differing bits between two hex fingerprints.
// Malformed or empty input yields the maximum distance.
func HammingDistance(a, b string) int {
	av, ok := parseFingerprint(a)
	if !ok {
		return maxHammingDistance
	}
	bv, ok := parseFingerprint(b)
	if !ok {
		return maxHammingDistance
	}
	return bits.OnesCount64(av ^ bv)
}

func parseFingerprint(s string) (uint64, bool) {
	if len(s) != 16 {
		return 0, false
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}
