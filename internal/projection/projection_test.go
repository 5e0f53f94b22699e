package projection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFit_IsDeterministicPerCollectionID(t *testing.T) {
	m1 := Fit("proj-a", 8, 4)
	m2 := Fit("proj-a", 8, 4)
	m3 := Fit("proj-b", 8, 4)

	assert.Equal(t, m1.Data, m2.Data)
	assert.NotEqual(t, m1.Data, m3.Data)
}

func TestMarshalUnmarshal_RoundTrips(t *testing.T) {
	m := Fit("proj-c", 6, 3)
	data := m.Marshal()

	parsed, err := Unmarshal(data, 6, 3)
	require.NoError(t, err)
	assert.Equal(t, m.Data, parsed.Data)
}

func TestApply_RejectsDimensionMismatch(t *testing.T) {
	m := Fit("proj-d", 4, 2)
	_, err := m.Apply([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestApply_ProducesExpectedDimension(t *testing.T) {
	m := Fit("proj-e", 5, 3)
	out, err := m.Apply([]float32{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestNormalize_ProducesUnitVector(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-6)
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	Normalize(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestQuantizeDequantize_RoundTripsApproximately(t *testing.T) {
	v := []float32{-1.5, 0, 0.5, 1.5, 3.0}
	q := Quantize(v)
	assert.Len(t, q.Values, len(v))

	back := Dequantize(q)
	for i := range v {
		assert.InDelta(t, v[i], back[i], (q.Max-q.Min)/255.0+1e-4)
	}
}

func TestQuantize_ConstantVectorIsAllZero(t *testing.T) {
	v := []float32{2, 2, 2}
	q := Quantize(v)
	for _, b := range q.Values {
		assert.Equal(t, uint8(0), b)
	}
}

func TestQuantize_MinMaxMapToEndpoints(t *testing.T) {
	v := []float32{-2, 0, 5}
	q := Quantize(v)
	assert.Equal(t, uint8(0), q.Values[0])
	assert.Equal(t, uint8(255), q.Values[2])
}
