// Package projection converts geometries between the geographic interchange
// frame (EPSG:4326) and the metric UTM frame used for buffer and area
// arithmetic (SIRGAS 2000 / UTM 23S, EPSG:31983; the SIRGAS 2000 datum is
// treated as WGS84-equivalent).
package projection

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/wroge/wgs84"
)

// UTM zone covering the São Paulo reference region.
const (
	utmZone     = 23
	utmNorthern = false
)

// ErrInvalidGeometry is returned for nil, empty or unsupported geometries.
var ErrInvalidGeometry = eris.New("projection: invalid geometry")

// Adapter reprojects geometries between the two frames. It is stateless and
// safe for concurrent use.
type Adapter struct {
	toMetric wgs84.Func
	toGeo    wgs84.Func
}

// New builds an adapter for the fixed regional UTM zone.
func New() *Adapter {
	utm := wgs84.UTM(utmZone, utmNorthern)
	return &Adapter{
		toMetric: wgs84.LonLat().To(utm),
		toGeo:    utm.To(wgs84.LonLat()),
	}
}

// ToMetric reprojects a geographic geometry into the metric frame.
func (a *Adapter) ToMetric(g geom.T) (geom.T, error) {
	return transform(g, a.toMetric)
}

// ToGeographic reprojects a metric geometry back to geographic coordinates.
func (a *Adapter) ToGeographic(g geom.T) (geom.T, error) {
	return transform(g, a.toGeo)
}

// MetricPolygon reprojects a polygon boundary into the metric frame.
func (a *Adapter) MetricPolygon(p *geom.Polygon) (*geom.Polygon, error) {
	out, err := a.ToMetric(p)
	if err != nil {
		return nil, err
	}
	return out.(*geom.Polygon), nil
}

// transform applies fn to every vertex, preserving geometry type and ring
// structure.
func transform(g geom.T, fn wgs84.Func) (geom.T, error) {
	if g == nil || len(g.FlatCoords()) == 0 {
		return nil, eris.Wrap(ErrInvalidGeometry, "projection: empty geometry")
	}

	layout := g.Layout()
	if layout != geom.XY {
		return nil, eris.Wrapf(ErrInvalidGeometry, "projection: unsupported layout %v", layout)
	}

	flat := projectFlat(g.FlatCoords(), fn)

	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(layout, flat), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(layout, flat), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(layout, flat), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(layout, flat, append([]int(nil), t.Ends()...)), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(layout, flat, append([]int(nil), t.Ends()...)), nil
	case *geom.MultiPolygon:
		endss := make([][]int, len(t.Endss()))
		for i, ends := range t.Endss() {
			endss[i] = append([]int(nil), ends...)
		}
		return geom.NewMultiPolygonFlat(layout, flat, endss), nil
	default:
		return nil, eris.Wrapf(ErrInvalidGeometry, "projection: unsupported type %T", g)
	}
}

func projectFlat(src []float64, fn wgs84.Func) []float64 {
	out := make([]float64, len(src))
	for i := 0; i+1 < len(src); i += 2 {
		x, y, _ := fn(src[i], src[i+1], 0)
		out[i], out[i+1] = x, y
	}
	return out
}
