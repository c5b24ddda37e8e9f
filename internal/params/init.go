package params

import (
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// Initializer fills a freshly allocated parameter buffer.
type Initializer func(rng *rand.Rand, data []float32, shape tensor.Shape)

// Zeros fills with zeros.
func Zeros() Initializer {
	return func(_ *rand.Rand, _ []float32, _ tensor.Shape) {}
}

// Ones fills with ones.
func Ones() Initializer {
	return func(_ *rand.Rand, data []float32, _ tensor.Shape) {
		for i := range data {
			data[i] = 1
		}
	}
}

// Constant fills with v.
func Constant(v float32) Initializer {
	return func(_ *rand.Rand, data []float32, _ tensor.Shape) {
		for i := range data {
			data[i] = v
		}
	}
}

// Normal samples from N(0, std²).
func Normal(std float64) Initializer {
	return func(rng *rand.Rand, data []float32, _ tensor.Shape) {
		for i := range data {
			data[i] = float32(rng.NormFloat64() * std)
		}
	}
}

// Uniform samples from U(-scale, scale).
func Uniform(scale float64) Initializer {
	return func(rng *rand.Rand, data []float32, _ tensor.Shape) {
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * scale)
		}
	}
}

// Glorot samples from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)), using
// the first two dimensions as fan-in/fan-out (or the single dimension twice
// for vectors).
func Glorot() Initializer {
	return func(rng *rand.Rand, data []float32, shape tensor.Shape) {
		fanIn, fanOut := shape[0], shape[0]
		if len(shape) > 1 {
			fanOut = shape[1]
		}
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * limit)
		}
	}
}
