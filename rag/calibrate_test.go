package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCalibrateSimilarity_ZeroDistance(t *testing.T) {
	assert.Equal(t, 1.0, CalibrateSimilarity(0))
}

func TestCalibrateSimilarity_NegativeTreatedAsZero(t *testing.T) {
	assert.Equal(t, 1.0, CalibrateSimilarity(-3))
}

func TestCalibrateSimilarity_KnownValues(t *testing.T) {
	assert.InDelta(t, 0.5, CalibrateSimilarity(10), 1e-9)
	assert.InDelta(t, 1.0/1.1, CalibrateSimilarity(1), 1e-9)
}

func TestProperty_Calibrate_BoundedAndDecreasing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := rapid.Float64Range(0, 1e9).Draw(rt, "d")
		s := CalibrateSimilarity(d)
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)

		// Strictly decreasing in distance.
		delta := rapid.Float64Range(1e-6, 1e6).Draw(rt, "delta")
		assert.Greater(t, s, CalibrateSimilarity(d+delta))
	})
}
