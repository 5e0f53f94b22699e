// Package projection implements the fixed random projection (C3): a
// per-collection matrix fit once at creation time and persisted verbatim,
// plus uniform 8-bit quantization of the projected vectors.
package projection

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
)

// Matrix is a fixed D x D' projection matrix. Entries are stored row-major:
// Data[i*Dprime+j] is P[i][j].
type Matrix struct {
	D      int
	Dprime int
	Data   []float32
}

// SeedFromCollectionID derives a deterministic seed from a collection-id so
// the same collection always regenerates the same matrix if it needs to be
// recomputed from scratch before the first persist.
func SeedFromCollectionID(collectionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(collectionID))
	return int64(h.Sum64())
}

// Fit builds a new D x D' matrix with i.i.d. entries drawn from a Gaussian
// distribution scaled by 1/sqrt(D'), seeded deterministically from
// collectionID. This is called exactly once per collection; the result must
// be persisted and never regenerated, per §4.3's immutability invariant.
func Fit(collectionID string, d, dprime int) *Matrix {
	if dprime <= 0 || dprime > d {
		dprime = d
	}
	rng := rand.New(rand.NewSource(SeedFromCollectionID(collectionID)))
	scale := 1.0 / math.Sqrt(float64(dprime))

	data := make([]float32, d*dprime)
	for i := range data {
		data[i] = float32(rng.NormFloat64() * scale)
	}

	return &Matrix{D: d, Dprime: dprime, Data: data}
}

// Apply computes v' = v . P. len(v) must equal m.D.
func (m *Matrix) Apply(v []float32) ([]float32, error) {
	if len(v) != m.D {
		return nil, fmt.Errorf("projection: vector has dimension %d, matrix expects %d", len(v), m.D)
	}
	out := make([]float32, m.Dprime)
	for j := 0; j < m.Dprime; j++ {
		var sum float32
		for i := 0; i < m.D; i++ {
			sum += v[i] * m.Data[i*m.Dprime+j]
		}
		out[j] = sum
	}
	return out, nil
}

// Marshal serializes the matrix as raw little-endian f32 bytes, matching the
// on-disk projection.bin layout (shape (D, D') is recorded separately in
// meta.json).
func (m *Matrix) Marshal() []byte {
	buf := make([]byte, len(m.Data)*4)
	for i, f := range m.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Unmarshal parses raw little-endian f32 bytes into a Matrix of the given
// shape.
func Unmarshal(data []byte, d, dprime int) (*Matrix, error) {
	want := d * dprime * 4
	if len(data) != want {
		return nil, fmt.Errorf("projection: expected %d bytes for shape (%d,%d), got %d", want, d, dprime, len(data))
	}
	out := make([]float32, d*dprime)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return &Matrix{D: d, Dprime: dprime, Data: out}, nil
}

// Normalize L2-normalizes v in place. Called before projection when the
// collection's configured distance is cosine.
func Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
