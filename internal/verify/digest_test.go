package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Digest(nil))
	})

	t.Run("deterministic", func(t *testing.T) {
		values := []float32{20, 23, 26, 29}
		assert.Equal(t, Digest(values), Digest([]float32{20, 23, 26, 29}))
	})

	t.Run("bit level", func(t *testing.T) {
		negZero := float32(math.Copysign(0, -1))
		assert.NotEqual(t, Digest([]float32{0}), Digest([]float32{negZero}))
		assert.NotEqual(t, Digest([]float32{1, 2}), Digest([]float32{2, 1}))
	})
}
