// Package embed provides the local embedding and chunking implementations.
//
// The hashing embedder maps token counts into a fixed-width vector with a
// stable hash, then L2-normalizes. Two texts that share vocabulary land near
// each other under cosine distance, which is all downstream clustering needs.
// It requires no model downloads and is fully deterministic.
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/trendwire/ingest/internal/signal"
)

// DefaultDimensions is the vector width used when none is configured.
const DefaultDimensions = 256

// HashingEmbedder is a deterministic bag-of-words embedder.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder constructs an embedder with the given vector width.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Embed produces an L2-normalized vector for the text. Empty or non-lexical
// text yields a zero vector.
func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dims)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dims))
		// High bit picks the sign so hash collisions partially cancel.
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// WordChunker splits text into overlapping word windows.
type WordChunker struct {
	size    int
	overlap int
}

// NewWordChunker constructs a chunker. Size is the words per chunk; overlap
// is how many trailing words repeat at the start of the next chunk.
func NewWordChunker(size, overlap int) *WordChunker {
	if size <= 0 {
		size = 200
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &WordChunker{size: size, overlap: overlap}
}

// Chunk splits the text. Text at or under one window yields a single chunk;
// empty text yields none.
func (c *WordChunker) Chunk(text string) []signal.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= c.size {
		return []signal.Chunk{{Text: strings.Join(words, " "), Index: 0}}
	}
	step := c.size - c.overlap
	var chunks []signal.Chunk
	for start := 0; start < len(words); start += step {
		end := start + c.size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, signal.Chunk{
			Text:  strings.Join(words[start:end], " "),
			Index: len(chunks),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
