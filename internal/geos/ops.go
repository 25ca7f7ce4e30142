// Package geos implements the planar geometry operations the calculation
// engines need: polygon boolean ops, buffering, areas and distances. All
// inputs are expected in the metric frame; nothing here reprojects.
package geos

import (
	"math"

	"github.com/engelsjk/polygol"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// circleSegments is the number of segments used to approximate a full circle
// when buffering.
const circleSegments = 32

// ErrInvalidGeometry is returned when an operation receives a geometry of an
// unsupported type or with no coordinates.
var ErrInvalidGeometry = eris.New("geos: invalid geometry")

// toPolygol converts a polygonal geometry to polygol's multipolygon form.
func toPolygol(g geom.T) (polygol.Geom, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygol.Geom{polyCoords(t.Coords())}, nil
	case *geom.MultiPolygon:
		out := make(polygol.Geom, 0, t.NumPolygons())
		for _, p := range t.Coords() {
			out = append(out, polyCoords(p))
		}
		return out, nil
	default:
		return nil, eris.Wrapf(ErrInvalidGeometry, "geos: expected polygonal geometry, got %T", g)
	}
}

func polyCoords(rings [][]geom.Coord) [][][]float64 {
	out := make([][][]float64, 0, len(rings))
	for _, ring := range rings {
		r := make([][]float64, 0, len(ring))
		for _, c := range ring {
			r = append(r, []float64{c[0], c[1]})
		}
		out = append(out, r)
	}
	return out
}

// fromPolygol converts a polygol result back to a MultiPolygon, closing any
// rings the clipper left open.
func fromPolygol(g polygol.Geom) (*geom.MultiPolygon, error) {
	coords := make([][][]geom.Coord, 0, len(g))
	for _, poly := range g {
		rings := make([][]geom.Coord, 0, len(poly))
		for _, ring := range poly {
			if len(ring) < 3 {
				continue
			}
			r := make([]geom.Coord, 0, len(ring)+1)
			for _, pt := range ring {
				r = append(r, geom.Coord{pt[0], pt[1]})
			}
			first, last := r[0], r[len(r)-1]
			if first[0] != last[0] || first[1] != last[1] {
				r = append(r, geom.Coord{first[0], first[1]})
			}
			rings = append(rings, r)
		}
		if len(rings) > 0 {
			coords = append(coords, rings)
		}
	}
	return geom.NewMultiPolygon(geom.XY).SetCoords(coords)
}

// Union merges any number of polygonal geometries. Nil inputs are skipped; an
// all-nil call yields an empty MultiPolygon. Every operand passes through the
// clipper, so a lone self-crossing ring comes back renoded into simple parts.
func Union(gs ...geom.T) (*geom.MultiPolygon, error) {
	var acc polygol.Geom
	for _, g := range gs {
		if g == nil || IsEmpty(g) {
			continue
		}
		pg, err := toPolygol(g)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc, err = polygol.Union(pg)
		} else {
			acc, err = polygol.Union(acc, pg)
		}
		if err != nil {
			return nil, eris.Wrap(err, "geos: union")
		}
	}
	if acc == nil {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	return fromPolygol(acc)
}

// Intersection clips a against b.
func Intersection(a, b geom.T) (*geom.MultiPolygon, error) {
	if a == nil || b == nil || IsEmpty(a) || IsEmpty(b) {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	pa, err := toPolygol(a)
	if err != nil {
		return nil, err
	}
	pb, err := toPolygol(b)
	if err != nil {
		return nil, err
	}
	out, err := polygol.Intersection(pa, pb)
	if err != nil {
		return nil, eris.Wrap(err, "geos: intersection")
	}
	return fromPolygol(out)
}

// Difference subtracts each subtrahend from a in order.
func Difference(a geom.T, subtrahends ...geom.T) (*geom.MultiPolygon, error) {
	if a == nil || IsEmpty(a) {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	acc, err := toPolygol(a)
	if err != nil {
		return nil, err
	}
	for _, s := range subtrahends {
		if s == nil || IsEmpty(s) {
			continue
		}
		ps, err := toPolygol(s)
		if err != nil {
			return nil, err
		}
		acc, err = polygol.Difference(acc, ps)
		if err != nil {
			return nil, eris.Wrap(err, "geos: difference")
		}
	}
	return fromPolygol(acc)
}

// BufferPoint returns a circular buffer of radius d around p.
func BufferPoint(p *geom.Point, d float64) *geom.Polygon {
	return circle(p.X(), p.Y(), d)
}

// BufferLine dilates a line by d on both sides with round caps and joins. The
// result is built as the union of per-segment capsules, which matches a
// Minkowski sum with a disc up to the circle approximation.
func BufferLine(l *geom.LineString, d float64) (*geom.MultiPolygon, error) {
	coords := l.Coords()
	if len(coords) == 0 {
		return nil, eris.Wrap(ErrInvalidGeometry, "geos: buffer empty line")
	}
	parts := make([]geom.T, 0, 2*len(coords))
	for _, c := range coords {
		parts = append(parts, circle(c[0], c[1], d))
	}
	for i := 0; i+1 < len(coords); i++ {
		if r := segmentRect(coords[i], coords[i+1], d); r != nil {
			parts = append(parts, r)
		}
	}
	return Union(parts...)
}

// BufferPolygon dilates a polygonal geometry outward by d. The dilation of a
// polygon by a disc equals the polygon unioned with the buffer of its
// boundary rings.
func BufferPolygon(g geom.T, d float64) (*geom.MultiPolygon, error) {
	var ringSets [][][]geom.Coord
	switch t := g.(type) {
	case *geom.Polygon:
		ringSets = [][][]geom.Coord{t.Coords()}
	case *geom.MultiPolygon:
		ringSets = t.Coords()
	default:
		return nil, eris.Wrapf(ErrInvalidGeometry, "geos: buffer %T", g)
	}
	parts := []geom.T{g}
	for _, rings := range ringSets {
		for _, ring := range rings {
			line := geom.NewLineString(geom.XY)
			if _, err := line.SetCoords(ring); err != nil {
				return nil, eris.Wrap(err, "geos: ring to line")
			}
			buf, err := BufferLine(line, d)
			if err != nil {
				return nil, err
			}
			parts = append(parts, buf)
		}
	}
	return Union(parts...)
}

// circle approximates a disc of radius d centered at (x, y).
func circle(x, y, d float64) *geom.Polygon {
	coords := make([]geom.Coord, 0, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		a := 2 * math.Pi * float64(i) / circleSegments
		coords = append(coords, geom.Coord{x + d*math.Cos(a), y + d*math.Sin(a)})
	}
	coords = append(coords, coords[0])
	p := geom.NewPolygon(geom.XY)
	p.MustSetCoords([][]geom.Coord{coords})
	return p
}

// segmentRect returns the rectangle of half-width d along the segment a-b, or
// nil for a degenerate segment.
func segmentRect(a, b geom.Coord, d float64) *geom.Polygon {
	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return nil
	}
	// unit normal
	nx, ny := -dy/length*d, dx/length*d
	coords := []geom.Coord{
		{a[0] + nx, a[1] + ny},
		{b[0] + nx, b[1] + ny},
		{b[0] - nx, b[1] - ny},
		{a[0] - nx, a[1] - ny},
		{a[0] + nx, a[1] + ny},
	}
	p := geom.NewPolygon(geom.XY)
	p.MustSetCoords([][]geom.Coord{coords})
	return p
}

// IsEmpty reports whether a geometry is nil or carries no coordinates.
func IsEmpty(g geom.T) bool {
	if g == nil {
		return true
	}
	return len(g.FlatCoords()) == 0
}

// Area returns the planar area of a polygonal geometry in square units of its
// frame. Interior rings subtract from the exterior.
func Area(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return polyArea(t.Coords())
	case *geom.MultiPolygon:
		var sum float64
		for _, p := range t.Coords() {
			sum += polyArea(p)
		}
		return sum
	default:
		return 0
	}
}

// Hectares converts Area of a metric-frame geometry to hectares.
func Hectares(g geom.T) float64 {
	return Area(g) / 10000
}

func polyArea(rings [][]geom.Coord) float64 {
	if len(rings) == 0 {
		return 0
	}
	area := ringArea(rings[0])
	for _, hole := range rings[1:] {
		area -= ringArea(hole)
	}
	if area < 0 {
		return 0
	}
	return area
}

func ringArea(ring []geom.Coord) float64 {
	var s float64
	for i := 0; i+1 < len(ring); i++ {
		s += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return math.Abs(s) / 2
}

// LargestPolygon collapses a multi-part result to its largest part. Smaller
// fragments are discarded; this is the documented policy for every
// multipolygon-to-polygon conversion in the calculator.
func LargestPolygon(g geom.T) *geom.Polygon {
	switch t := g.(type) {
	case *geom.Polygon:
		return t
	case *geom.MultiPolygon:
		var best *geom.Polygon
		var bestArea float64
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if a := Area(p); best == nil || a > bestArea {
				best, bestArea = p, a
			}
		}
		if best == nil {
			return geom.NewPolygon(geom.XY)
		}
		return best
	default:
		return geom.NewPolygon(geom.XY)
	}
}

// Multi wraps a polygon into a single-part MultiPolygon; MultiPolygons pass
// through unchanged.
func Multi(g geom.T) *geom.MultiPolygon {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(geom.XY)
		coords := [][][]geom.Coord{t.Coords()}
		mp.MustSetCoords(coords)
		return mp
	default:
		return geom.NewMultiPolygon(geom.XY)
	}
}

// LineDistance returns the minimum planar distance between a line and the
// exterior ring of a polygon, zero when they touch or cross.
func LineDistance(l *geom.LineString, p *geom.Polygon) float64 {
	line := l.Coords()
	if len(line) == 0 || p.NumLinearRings() == 0 {
		return math.Inf(1)
	}
	ring := p.Coords()[0]
	for _, c := range line {
		if pointInRing(c, ring) {
			return 0
		}
	}
	min := math.Inf(1)
	for i := 0; i+1 < len(line); i++ {
		for j := 0; j+1 < len(ring); j++ {
			d := segmentDistance(line[i], line[i+1], ring[j], ring[j+1])
			if d < min {
				min = d
			}
			if min == 0 {
				return 0
			}
		}
	}
	return min
}

// Contains reports whether the point (x, y) lies inside the polygon,
// excluding its holes.
func Contains(p *geom.Polygon, x, y float64) bool {
	if p == nil || p.NumLinearRings() == 0 {
		return false
	}
	rings := p.Coords()
	if !pointInRing(geom.Coord{x, y}, rings[0]) {
		return false
	}
	for _, hole := range rings[1:] {
		if pointInRing(geom.Coord{x, y}, hole) {
			return false
		}
	}
	return true
}

func pointInRing(pt geom.Coord, ring []geom.Coord) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > pt[1]) != (yj > pt[1]) &&
			pt[0] < (xj-xi)*(pt[1]-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

func segmentDistance(a1, a2, b1, b2 geom.Coord) float64 {
	if segmentsIntersect(a1, a2, b1, b2) {
		return 0
	}
	return math.Min(
		math.Min(pointSegmentDistance(a1, b1, b2), pointSegmentDistance(a2, b1, b2)),
		math.Min(pointSegmentDistance(b1, a1, a2), pointSegmentDistance(b2, a1, a2)),
	)
}

func pointSegmentDistance(p, a, b geom.Coord) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p[0]-(a[0]+t*dx), p[1]-(a[1]+t*dy))
}

func segmentsIntersect(a1, a2, b1, b2 geom.Coord) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func cross(o, a, b geom.Coord) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}
