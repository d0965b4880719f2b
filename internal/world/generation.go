// Neighbourhood generation using layered simplex noise.
// Produces a prosperity field over a hex grid sized to the population.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds neighbourhood generation parameters.
type GenConfig struct {
	Radius int   // Hex grid radius
	Seed   int64 // Noise seed
}

// DefaultDensity is the target number of residents per cell.
const DefaultDensity = 4

// RadiusFor returns the smallest radius whose grid holds population
// residents at roughly density per cell.
func RadiusFor(population, density int) int {
	if density <= 0 {
		density = DefaultDensity
	}
	cells := (population + density - 1) / density
	radius := 0
	// A grid of radius R has 3R(R+1)+1 cells.
	for 3*radius*(radius+1)+1 < cells {
		radius++
	}
	return radius
}

// Generate creates a neighbourhood map with a prosperity field.
func Generate(cfg GenConfig) *Map {
	noise := opensimplex.NewNormalized(cfg.Seed)

	m := NewMap(cfg.Radius)
	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if coord.Ring() > cfg.Radius {
				continue
			}

			// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0

			m.Set(&Cell{
				Coord:      coord,
				Prosperity: clamp01(octaveNoise(noise, x, y, 3, 0.15, 0.5)),
			})
		}
	}
	return m
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
