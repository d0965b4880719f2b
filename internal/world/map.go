package world

import (
	"fmt"
	"slices"
)

// Cell is a single neighbourhood tile.
type Cell struct {
	Coord HexCoord `json:"coord"`

	// Prosperity is the local economic climate, 0.0 (depressed) to 1.0 (booming).
	// Set during generation and fixed for the run.
	Prosperity float64 `json:"prosperity"`
}

// Map holds the neighbourhood grid and who lives where.
type Map struct {
	Cells  map[HexCoord]*Cell `json:"-"`
	Radius int                `json:"radius"`

	// coords lists every cell in generation order so iteration never
	// depends on map ordering.
	coords    []HexCoord
	occupants map[HexCoord][]uint64
}

// NewMap creates an empty map with the given radius.
// A hex grid of radius R contains hexes where max(|q|, |r|, |s|) <= R.
func NewMap(radius int) *Map {
	return &Map{
		Cells:     make(map[HexCoord]*Cell),
		Radius:    radius,
		occupants: make(map[HexCoord][]uint64),
	}
}

// Get returns the cell at the given coordinate, or nil if out of bounds.
func (m *Map) Get(coord HexCoord) *Cell {
	return m.Cells[coord]
}

// Set places a cell at the given coordinate.
func (m *Map) Set(cell *Cell) {
	if _, ok := m.Cells[cell.Coord]; !ok {
		m.coords = append(m.coords, cell.Coord)
	}
	m.Cells[cell.Coord] = cell
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return coord.Ring() <= m.Radius
}

// CellCount returns the total number of cells in the map.
func (m *Map) CellCount() int {
	return len(m.Cells)
}

// Coords returns every cell coordinate in generation order.
func (m *Map) Coords() []HexCoord {
	return slices.Clone(m.coords)
}

// Prosperity returns the prosperity at coord, or 0.5 for unknown cells.
func (m *Map) Prosperity(coord HexCoord) float64 {
	if c := m.Cells[coord]; c != nil {
		return c.Prosperity
	}
	return 0.5
}

// Occupy records that id lives at coord.
func (m *Map) Occupy(id uint64, coord HexCoord) {
	m.occupants[coord] = append(m.occupants[coord], id)
}

// Vacate removes id from coord. Unknown ids are ignored.
func (m *Map) Vacate(id uint64, coord HexCoord) {
	ids := m.occupants[coord]
	if i := slices.Index(ids, id); i >= 0 {
		m.occupants[coord] = slices.Delete(ids, i, i+1)
	}
}

// Occupants returns the ids living at coord in arrival order.
func (m *Map) Occupants(coord HexCoord) []uint64 {
	return slices.Clone(m.occupants[coord])
}

// Nearby returns up to limit ids living at coord or in one of its six
// neighbours, excluding self. Same-cell residents come first.
func (m *Map) Nearby(self uint64, coord HexCoord, limit int) []uint64 {
	var out []uint64
	collect := func(c HexCoord) bool {
		for _, id := range m.occupants[c] {
			if id == self {
				continue
			}
			if len(out) >= limit {
				return false
			}
			out = append(out, id)
		}
		return true
	}
	if !collect(coord) {
		return out
	}
	for _, n := range coord.Neighbors() {
		if !collect(n) {
			break
		}
	}
	return out
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(radius=%d, cells=%d)", m.Radius, m.CellCount())
}
