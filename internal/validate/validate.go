// Package validate checks and repairs the parcel boundary before the
// calculation: type enforcement, largest-part collapse, minimum legal area
// and vertex-count bounds.
package validate

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/geolavoura/carcalc/internal/config"
	"github.com/geolavoura/carcalc/internal/geos"
	"github.com/geolavoura/carcalc/internal/projection"
)

// Validator normalizes a candidate parcel boundary.
type Validator struct {
	rules config.Rules
	proj  *projection.Adapter
}

// New builds a validator with the given rule limits.
func New(rules config.Rules, proj *projection.Adapter) *Validator {
	return &Validator{rules: rules, proj: proj}
}

// Validate returns the corrected boundary polygon plus a list of warnings for
// every correction or legal concern found. A non-polygonal input is a fatal
// error: the perimeter must be a closed polygon.
func (v *Validator) Validate(g geom.T) (*geom.Polygon, []string, error) {
	var warnings []string

	var poly *geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		poly = t
	case *geom.MultiPolygon:
		poly = geos.LargestPolygon(t)
		warnings = append(warnings, "multi-part boundary collapsed to its largest part")
	default:
		return nil, nil, eris.Wrapf(geos.ErrInvalidGeometry,
			"validate: expected polygon boundary, got %T", g)
	}
	if geos.IsEmpty(poly) {
		return nil, nil, eris.Wrap(geos.ErrInvalidGeometry, "validate: empty boundary")
	}

	// Self-intersections are resolved by renoding through the clipper; if
	// that splits the boundary, keep the largest part.
	normalized, err := geos.Union(poly)
	if err != nil {
		return nil, nil, eris.Wrap(err, "validate: normalize boundary")
	}
	if normalized.NumPolygons() > 1 {
		warnings = append(warnings, "self-intersecting boundary split and collapsed to its largest part")
	}
	poly = geos.LargestPolygon(normalized)

	metric, err := v.proj.MetricPolygon(poly)
	if err != nil {
		return nil, nil, eris.Wrap(err, "validate: project boundary")
	}
	if area := geos.Area(metric); area < v.rules.MinParcelAreaM2 {
		warnings = append(warnings, fmt.Sprintf(
			"area (%.0f m²) below the legal minimum (%.0f m²)", area, v.rules.MinParcelAreaM2))
	}

	if n := numExteriorVertices(poly); n > v.rules.MaxVertices {
		poly = v.simplify(poly)
		warnings = append(warnings, fmt.Sprintf(
			"boundary simplified from %d to %d vertices", n, numExteriorVertices(poly)))
	}

	return poly, warnings, nil
}

func numExteriorVertices(p *geom.Polygon) int {
	if p.NumLinearRings() == 0 {
		return 0
	}
	return len(p.Coords()[0])
}

// simplify reduces the exterior ring with Douglas-Peucker, doubling the
// tolerance (starting near 1 m in degrees) until the vertex bound holds.
func (v *Validator) simplify(p *geom.Polygon) *geom.Polygon {
	ring := p.Coords()[0]
	tolerance := 0.00001
	for len(ring) > v.rules.MaxVertices && tolerance < 0.001 {
		ring = simplifyRing(ring, tolerance)
		tolerance *= 2
	}
	out := geom.NewPolygon(geom.XY)
	out.MustSetCoords([][]geom.Coord{ring})
	return out
}

// simplifyRing runs Douglas-Peucker on a closed ring, keeping its endpoints.
func simplifyRing(ring []geom.Coord, tolerance float64) []geom.Coord {
	if len(ring) <= 4 {
		return ring
	}
	keep := make([]bool, len(ring))
	keep[0], keep[len(ring)-1] = true, true
	douglasPeucker(ring, 0, len(ring)-1, tolerance, keep)

	out := make([]geom.Coord, 0, len(ring))
	for i, k := range keep {
		if k {
			out = append(out, ring[i])
		}
	}
	if len(out) < 4 {
		return ring
	}
	return out
}

func douglasPeucker(pts []geom.Coord, first, last int, tolerance float64, keep []bool) {
	if last <= first+1 {
		return
	}
	var maxDist float64
	index := -1
	for i := first + 1; i < last; i++ {
		if d := perpendicularDistance(pts[i], pts[first], pts[last]); d > maxDist {
			maxDist, index = d, i
		}
	}
	if maxDist > tolerance && index > 0 {
		keep[index] = true
		douglasPeucker(pts, first, index, tolerance, keep)
		douglasPeucker(pts, index, last, tolerance, keep)
	}
}

func perpendicularDistance(p, a, b geom.Coord) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	if dx == 0 && dy == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}
	return math.Abs(dx*(a[1]-p[1])-dy*(a[0]-p[0])) / math.Hypot(dx, dy)
}
