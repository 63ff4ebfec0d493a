// Package memory ranks a user's stored chunks against a free-text query.
// Embeddings are deterministic: the text is expanded into a 384-dim vector
// by iterated SHA-384 hashing, so no embedding service is needed and the
// same text always lands on the same vector.
package memory

import (
	"context"
	"crypto/sha512"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/secondbrain-go/brain-relay/pkg/brain/store"
)

// Dim is the embedding width, eight SHA-384 digests of 48 bytes each.
const Dim = 384

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20
)

// Embed maps text onto a Dim-wide vector with components in [-1, 1).
// Round zero hashes the text itself, each following round hashes the
// previous digest.
func Embed(text string) []float64 {
	vec := make([]float64, 0, Dim)
	digest := sha512.Sum384([]byte(text))
	for {
		for _, b := range digest {
			vec = append(vec, (float64(b)-128)/128.0)
		}
		if len(vec) >= Dim {
			return vec[:Dim]
		}
		digest = sha512.Sum384(digest[:])
	}
}

// Cosine computes the cosine similarity of two equal-length vectors.
// Either vector being all zero yields zero.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NoteText is the canonical indexed form of a note.
func NoteText(title, content string) string {
	return title + "\n\n" + content
}

// ChunkSource yields the chunks to rank, scoped to one user.
type ChunkSource interface {
	ListMemoryChunks(ctx context.Context, userID string) ([]store.MemoryChunk, error)
}

type Result struct {
	Chunk store.MemoryChunk
	Score float64
}

// Index ranks chunks on demand. Vectors are recomputed per search; the
// deterministic embedding is cheap enough that nothing is cached.
type Index struct {
	source ChunkSource
}

func NewIndex(source ChunkSource) *Index {
	return &Index{source: source}
}

// Search returns the user's chunks most similar to query, best first.
// Limit is clamped to [1, 20] with a default of 5.
func (ix *Index) Search(ctx context.Context, userID, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("memory: query is empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	chunks, err := ix.source.ListMemoryChunks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("memory: load chunks: %w", err)
	}

	queryVec := Embed(query)
	results := make([]Result, 0, len(chunks))
	for _, chunk := range chunks {
		results = append(results, Result{
			Chunk: chunk,
			Score: Cosine(queryVec, Embed(chunk.Text)),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
