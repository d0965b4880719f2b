package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b HexCoord
		want int
	}{
		{HexCoord{0, 0}, HexCoord{0, 0}, 0},
		{HexCoord{0, 0}, HexCoord{1, 0}, 1},
		{HexCoord{0, 0}, HexCoord{2, -1}, 2},
		{HexCoord{-2, 0}, HexCoord{2, 0}, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Distance(tt.a, tt.b), "%v -> %v", tt.a, tt.b)
	}
}

func TestNeighborsAreAdjacent(t *testing.T) {
	c := HexCoord{Q: 3, R: -1}
	for _, n := range c.Neighbors() {
		assert.Equal(t, 1, Distance(c, n))
	}
}

func TestRadiusFor(t *testing.T) {
	assert.Equal(t, 0, RadiusFor(1, 4))
	assert.Equal(t, 0, RadiusFor(4, 4))
	assert.Equal(t, 1, RadiusFor(5, 4))
	assert.Equal(t, 1, RadiusFor(28, 4))
	assert.Equal(t, 2, RadiusFor(29, 4))
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(GenConfig{Radius: 3, Seed: 9})
	b := Generate(GenConfig{Radius: 3, Seed: 9})

	require.Equal(t, 37, a.CellCount())
	require.Equal(t, a.Coords(), b.Coords())
	for _, c := range a.Coords() {
		p := a.Prosperity(c)
		assert.Equal(t, p, b.Prosperity(c))
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestNearbyAndVacate(t *testing.T) {
	m := Generate(GenConfig{Radius: 2, Seed: 1})
	origin := HexCoord{}
	m.Occupy(1, origin)
	m.Occupy(2, origin)
	m.Occupy(3, HexCoord{Q: 1, R: 0})
	m.Occupy(4, HexCoord{Q: 2, R: 0})

	assert.Equal(t, []uint64{2, 3}, m.Nearby(1, origin, 10))
	assert.Equal(t, []uint64{2}, m.Nearby(1, origin, 1))

	m.Vacate(2, origin)
	assert.Equal(t, []uint64{1}, m.Occupants(origin))
	assert.Equal(t, []uint64{3}, m.Nearby(1, origin, 10))
}
