package semantic

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// Dimensions is the size of the embedding vectors.
const Dimensions = 64

// Embed maps text to a deterministic unit vector using hashed bag-of-words:
// each token's SHA-256 picks a dimension and a sign. The same text always
// embeds identically, which keeps secondary-store writes idempotent.
func Embed(text string) []float64 {
	vector := make([]float64, Dimensions)

	for _, token := range tokenize(text) {
		sum := sha256.Sum256([]byte(token))
		index := binary.BigEndian.Uint32(sum[:4]) % Dimensions
		sign := 1.0
		if sum[4]%2 == 1 {
			sign = -1.0
		}
		vector[index] += sign
	}

	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vector {
			vector[i] /= norm
		}
	}

	return vector
}

// Cosine returns the cosine similarity of two equal-length vectors.
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

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
}
