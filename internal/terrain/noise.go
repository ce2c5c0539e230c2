package terrain

import (
	"fmt"
	"math"

	"github.com/aquilax/go-perlin"
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Source is a 2D coherent noise function returning values in [-1, 1].
type Source interface {
	Eval2(x, y float64) float64
}

// Noise kinds accepted by NewSource.
const (
	NoiseSimplex = "simplex"
	NoisePerlin  = "perlin"
)

// Fractal kinds accepted by Fractal.
const (
	FractalFBM    = "fbm"
	FractalRidged = "ridged"
)

type perlinSource struct {
	p *perlin.Perlin
}

func (s perlinSource) Eval2(x, y float64) float64 {
	return clampUnit(s.p.Noise2D(x, y))
}

// NewSource builds the base noise for kind.
func NewSource(kind string, seed int64) (Source, error) {
	switch kind {
	case "", NoiseSimplex:
		return opensimplex.New(seed), nil
	case NoisePerlin:
		// alpha/beta/n as the classic Perlin defaults; octaves are layered
		// by Fractal, not here.
		return perlinSource{p: perlin.NewPerlin(2, 2, 1, seed)}, nil
	default:
		return nil, fmt.Errorf("unknown noise kind %q", kind)
	}
}

// Fractal layers multiple octaves of a base source.
type Fractal struct {
	Base       Source
	Kind       string
	Frequency  float64
	Octaves    int
	Lacunarity float64
	Gain       float64
}

// Eval2 returns the layered noise at (x, y) in [-1, 1].
func (f Fractal) Eval2(x, y float64) float64 {
	octaves := f.Octaves
	if octaves < 1 {
		octaves = 1
	}

	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	frequency := f.Frequency

	for i := 0; i < octaves; i++ {
		n := f.Base.Eval2(x*frequency, y*frequency)
		if f.Kind == FractalRidged {
			// Ridges where the base crosses zero, remapped back to [-1, 1].
			n = (1.0-math.Abs(n))*2.0 - 1.0
		}
		total += n * amplitude
		maxVal += amplitude
		amplitude *= f.Gain
		frequency *= f.Lacunarity
	}

	return total / maxVal
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
