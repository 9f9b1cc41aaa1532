package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// normFloor keeps zero vectors from producing NaN scores.
const normFloor = 1e-12

// Pack serializes a vector as little-endian float32 bytes for storage.
func Pack(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// Unpack deserializes a vector packed by Pack.
func Unpack(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// Norm returns the L2 norm of vec, floored to avoid divide-by-zero.
func Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	n := math.Sqrt(sum)
	if n < normFloor {
		return normFloor
	}
	return n
}

// Dot returns the dot product over the shared prefix of a and b.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineWithNorms scores a query vector against a stored vector using
// precomputed norms: dot(q,v) / (qn*vn + eps). The formula keeps the
// result in [-1, 1] for non-degenerate inputs.
func CosineWithNorms(q []float32, qn float64, v []float32, vn float64) float64 {
	return Dot(q, v) / (qn*vn + normFloor)
}

// Cosine computes cosine similarity between two vectors. Mismatched
// lengths or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na <= 0 || nb <= 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
