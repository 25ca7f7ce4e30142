// Package kml extracts the parcel perimeter from a KML file. Only polygon
// geometry is consumed; everything else in the document is ignored.
package kml

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/geolavoura/carcalc/internal/geos"
)

// ErrNoPolygon is returned when the document contains no polygon, usually an
// unclosed perimeter drawn as a path.
var ErrNoPolygon = eris.New("kml: document contains no polygon")

// kmlPolygon mirrors the subset of the KML polygon element we consume.
type kmlPolygon struct {
	Outer string   `xml:"outerBoundaryIs>LinearRing>coordinates"`
	Inner []string `xml:"innerBoundaryIs>LinearRing>coordinates"`
}

// ParseFile reads a KML file and returns the parcel perimeter and the first
// placemark name found. When the document holds several polygons (or a
// MultiGeometry), the largest one is kept.
func ParseFile(path string) (*geom.Polygon, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "kml: open %s", path)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a KML document from r.
func Parse(r io.Reader) (*geom.Polygon, string, error) {
	dec := xml.NewDecoder(r)

	var polygons []*geom.Polygon
	var name string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", eris.Wrap(err, "kml: parse")
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "name":
			if name == "" {
				var text string
				if err := dec.DecodeElement(&text, &start); err == nil {
					name = strings.TrimSpace(text)
				}
			}
		case "Polygon":
			var kp kmlPolygon
			if err := dec.DecodeElement(&kp, &start); err != nil {
				return nil, "", eris.Wrap(err, "kml: decode polygon")
			}
			poly, err := buildPolygon(kp)
			if err != nil {
				zap.L().Warn("kml: skipping malformed polygon", zap.Error(err))
				continue
			}
			polygons = append(polygons, poly)
		}
	}

	if len(polygons) == 0 {
		return nil, "", eris.Wrap(ErrNoPolygon, "kml: check that the perimeter is a closed polygon")
	}

	best := polygons[0]
	for _, p := range polygons[1:] {
		if geos.Area(p) > geos.Area(best) {
			best = p
		}
	}
	if len(polygons) > 1 {
		zap.L().Warn("kml: multiple polygons found, keeping the largest",
			zap.Int("count", len(polygons)))
	}

	zap.L().Info("kml: perimeter extracted",
		zap.String("name", name),
		zap.Int("vertices", len(best.Coords()[0])),
	)
	return best, name, nil
}

func buildPolygon(kp kmlPolygon) (*geom.Polygon, error) {
	outer, err := parseCoordinates(kp.Outer)
	if err != nil {
		return nil, err
	}
	rings := [][]geom.Coord{closeRing(outer)}
	for _, inner := range kp.Inner {
		ring, err := parseCoordinates(inner)
		if err != nil {
			return nil, err
		}
		rings = append(rings, closeRing(ring))
	}
	p := geom.NewPolygon(geom.XY)
	if _, err := p.SetCoords(rings); err != nil {
		return nil, eris.Wrap(err, "kml: set polygon coords")
	}
	return p, nil
}

// parseCoordinates reads the KML coordinate syntax: whitespace-separated
// lon,lat[,alt] tuples.
func parseCoordinates(text string) ([]geom.Coord, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return nil, eris.Errorf("kml: ring with %d coordinates", len(fields))
	}
	coords := make([]geom.Coord, 0, len(fields))
	for _, field := range fields {
		parts := strings.Split(field, ",")
		if len(parts) < 2 {
			return nil, eris.Errorf("kml: malformed coordinate %q", field)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "kml: parse longitude %q", parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "kml: parse latitude %q", parts[1])
		}
		coords = append(coords, geom.Coord{lon, lat})
	}
	return coords, nil
}

func closeRing(coords []geom.Coord) []geom.Coord {
	if len(coords) == 0 {
		return coords
	}
	first, last := coords[0], coords[len(coords)-1]
	if first[0] != last[0] || first[1] != last[1] {
		coords = append(coords, geom.Coord{first[0], first[1]})
	}
	return coords
}
