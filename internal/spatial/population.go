package spatial

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/lox/esseosc/internal/models"
)

// PopulationPoint is the population of one raster cell, located at its centre
// in lon/lat degrees.
type PopulationPoint struct {
	Lon        float64
	Lat        float64
	Population float64
}

type box struct {
	bounds geom.Bounds
	gridID int
}

func (b *box) Bounds() *geom.Bounds {
	return &b.bounds
}

// contains tests half-open membership so a point on a shared edge lands in
// exactly one box.
func (b *box) contains(p geom.Point) bool {
	return p.X >= b.bounds.Min.X && p.X < b.bounds.Max.X && p.Y >= b.bounds.Min.Y && p.Y < b.bounds.Max.Y
}

// GridPopulation sums the population points lying inside region into the grid
// boxes of side step centred on each cell. Cells receiving no point get zero.
func GridPopulation(region geom.Polygonal, cells []models.GridCell, step float64, points []PopulationPoint) map[int]float64 {
	half := step / 2
	tree := rtree.NewTree(25, 50)
	pop := make(map[int]float64, len(cells))
	for _, c := range cells {
		pop[c.GridID] = 0
		tree.Insert(&box{
			bounds: geom.Bounds{
				Min: geom.Point{X: c.Longitude - half, Y: c.Latitude - half},
				Max: geom.Point{X: c.Longitude + half, Y: c.Latitude + half},
			},
			gridID: c.GridID,
		})
	}

	bounds := region.Bounds()
	for _, pt := range points {
		if pt.Population <= 0 || math.IsNaN(pt.Population) {
			continue
		}
		p := geom.Point{X: pt.Lon, Y: pt.Lat}
		if p.X < bounds.Min.X || p.X > bounds.Max.X || p.Y < bounds.Min.Y || p.Y > bounds.Max.Y {
			continue
		}
		if p.Within(region) == geom.Outside {
			continue
		}
		for _, s := range tree.SearchIntersect(p.Bounds()) {
			b := s.(*box)
			if b.contains(p) {
				pop[b.gridID] += pt.Population
				break
			}
		}
	}
	return pop
}
