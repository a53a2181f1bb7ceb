// Package spatial maps coordinates to administrative regions and overlays
// population points onto ERA5 grid boxes.
package spatial

import (
	"errors"
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

var (
	ErrNoRegion        = errors.New("no containing region")
	ErrAmbiguousRegion = errors.New("several containing regions")
)

// BoundarySet names one boundary file: a NUTS vintage year and level.
type BoundarySet struct {
	Year  int
	Level int
}

func (b BoundarySet) String() string {
	return fmt.Sprintf("%d-%d", b.Year, b.Level)
}

// Region is one region polygon of a boundary set.
type Region struct {
	geom.Polygonal
	ID          string
	Level       int
	CountryCode string
	Set         BoundarySet
}

// Resolver finds the region of a boundary set containing a coordinate.
type Resolver struct {
	set     BoundarySet
	tree    *rtree.Rtree
	regions map[string]*Region
}

func NewResolver(set BoundarySet, regions []Region) *Resolver {
	r := &Resolver{
		set:     set,
		tree:    rtree.NewTree(25, 50),
		regions: make(map[string]*Region, len(regions)),
	}
	for i := range regions {
		reg := &regions[i]
		r.tree.Insert(reg)
		r.regions[reg.ID] = reg
	}
	return r
}

func (r *Resolver) Set() BoundarySet {
	return r.set
}

// Region returns the region with the given id.
func (r *Resolver) Region(id string) (*Region, bool) {
	reg, ok := r.regions[id]
	return reg, ok
}

// Resolve returns the single region containing (lon, lat).
func (r *Resolver) Resolve(lon, lat float64) (*Region, error) {
	p := geom.Point{X: lon, Y: lat}
	var found []*Region
	for _, s := range r.tree.SearchIntersect(p.Bounds()) {
		reg := s.(*Region)
		if p.Within(reg.Polygonal) != geom.Outside {
			found = append(found, reg)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%s (%g, %g): %w", r.set, lon, lat, ErrNoRegion)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%s (%g, %g) in %s and %s: %w", r.set, lon, lat, found[0].ID, found[1].ID, ErrAmbiguousRegion)
	}
}

// Assignment is the region of an entity within one boundary set.
type Assignment struct {
	Set    BoundarySet
	Region string
}

// Resolvers resolves a coordinate against several boundary sets at once.
type Resolvers []*Resolver

// ResolveAll returns one assignment per boundary set that resolves the point.
// Sets that find no region or several are reported through drop and skipped.
func (rs Resolvers) ResolveAll(lon, lat float64, drop func(BoundarySet, error)) []Assignment {
	var out []Assignment
	for _, r := range rs {
		reg, err := r.Resolve(lon, lat)
		if err != nil {
			if drop != nil {
				drop(r.set, err)
			}
			continue
		}
		out = append(out, Assignment{Set: r.set, Region: reg.ID})
	}
	return out
}

// Region finds a region by id in any of the boundary sets.
func (rs Resolvers) Region(id string) (*Region, bool) {
	for _, r := range rs {
		if reg, ok := r.Region(id); ok {
			return reg, true
		}
	}
	return nil, false
}
