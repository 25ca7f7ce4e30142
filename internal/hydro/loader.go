// Package hydro loads hydrography features for a parcel from local shapefile
// extracts: watercourse lines, water-body polygons and derived spring points.
package hydro

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/geolavoura/carcalc/internal/config"
	"github.com/geolavoura/carcalc/internal/geos"
	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/projection"
)

// Shapefile names probed inside the data directory, in preference order.
var (
	riverFiles = []string{"hidrografia.shp", "drenagem.shp", "rios.shp", "cursos_dagua.shp"}
	lakeFiles  = []string{"lagos.shp", "massas_dagua.shp", "reservatorios.shp"}
)

// Loader reads hydrography extracts from a local directory.
type Loader struct {
	cfg  config.HydroConfig
	proj *projection.Adapter
}

// NewLoader builds a loader over the configured data directory.
func NewLoader(cfg config.HydroConfig, proj *projection.Adapter) *Loader {
	return &Loader{cfg: cfg, proj: proj}
}

// Features is the hydrography relevant to one parcel.
type Features struct {
	Watercourses []model.Watercourse
	Lakes        []model.Lake
	Springs      []model.Spring
}

// Load reads every hydrography source found in the data directory and keeps
// the features within the search radius of the parcel. Missing source files
// are not an error: the calculation proceeds with whatever is available.
func (l *Loader) Load(parcel *model.Parcel) (Features, error) {
	var out Features

	search, err := l.searchArea(parcel)
	if err != nil {
		return out, err
	}
	bounds := search.Bounds()

	for _, name := range riverFiles {
		path := filepath.Join(l.cfg.DataDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		rivers, err := l.readWatercourses(path, bounds)
		if err != nil {
			return out, err
		}
		out.Watercourses = append(out.Watercourses, rivers...)
	}

	for _, name := range lakeFiles {
		path := filepath.Join(l.cfg.DataDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		lakes, err := l.readLakes(path, bounds)
		if err != nil {
			return out, err
		}
		out.Lakes = append(out.Lakes, lakes...)
	}

	out.Springs, err = l.identifySprings(out.Watercourses, parcel)
	if err != nil {
		return out, err
	}

	zap.L().Info("hydro: features loaded",
		zap.Int("watercourses", len(out.Watercourses)),
		zap.Int("lakes", len(out.Lakes)),
		zap.Int("springs", len(out.Springs)),
	)
	return out, nil
}

// searchArea buffers the parcel outward by the configured radius, in the
// metric frame, and reprojects it for the geographic-coordinate bbox filter.
func (l *Loader) searchArea(parcel *model.Parcel) (geom.T, error) {
	buffered, err := geos.BufferPolygon(parcel.Metric, l.cfg.SearchBufferKM*1000)
	if err != nil {
		return nil, eris.Wrap(err, "hydro: buffer search area")
	}
	area, err := l.proj.ToGeographic(buffered)
	if err != nil {
		return nil, eris.Wrap(err, "hydro: reproject search area")
	}
	return area, nil
}

func (l *Loader) readWatercourses(path string, bounds *geom.Bounds) ([]model.Watercourse, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "hydro: open %s", path)
	}
	defer r.Close()

	fields := fieldIndex(r.Fields())
	var out []model.Watercourse
	for r.Next() {
		i, s := r.Shape()
		line, ok := s.(*shp.PolyLine)
		if !ok {
			continue
		}
		if !boxOverlaps(line.BBox(), bounds) {
			continue
		}
		name := fields.attribute(r, i, "nome", "name")
		kind := fields.attribute(r, i, "tipo", "tipo_trecho", "classe")
		width := parseNumeric(fields.attribute(r, i, "largura", "largura_m", "largura_me"))
		if width <= 0 {
			width = EstimateWidth(name, kind)
		}
		for _, part := range polylineParts(line) {
			out = append(out, model.Watercourse{
				Geom:   part,
				Name:   name,
				Kind:   kind,
				WidthM: width,
			})
		}
	}
	return out, nil
}

func (l *Loader) readLakes(path string, bounds *geom.Bounds) ([]model.Lake, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "hydro: open %s", path)
	}
	defer r.Close()

	fields := fieldIndex(r.Fields())
	var out []model.Lake
	for r.Next() {
		i, s := r.Shape()
		poly, ok := s.(*shp.Polygon)
		if !ok {
			continue
		}
		if !boxOverlaps(poly.BBox(), bounds) {
			continue
		}
		g, err := polygonShape(poly)
		if err != nil {
			zap.L().Warn("hydro: skipping malformed water body", zap.Error(err))
			continue
		}
		out = append(out, model.Lake{
			Geom:   g,
			Name:   fields.attribute(r, i, "nome", "name"),
			AreaHa: parseNumeric(fields.attribute(r, i, "area_ha", "areaha")),
		})
	}
	return out, nil
}

// identifySprings treats the upstream endpoint of each watercourse near the
// parcel as a spring candidate, then deduplicates candidates closer than 50 m
// to each other.
func (l *Loader) identifySprings(rivers []model.Watercourse, parcel *model.Parcel) ([]model.Spring, error) {
	zone, err := geos.BufferPolygon(parcel.Metric, 100)
	if err != nil {
		return nil, eris.Wrap(err, "hydro: buffer spring search zone")
	}

	var kept [][2]float64
	var out []model.Spring
	for _, river := range rivers {
		metric, err := l.proj.ToMetric(river.Geom)
		if err != nil {
			continue
		}
		coords := metric.(*geom.LineString).Coords()
		if len(coords) == 0 {
			continue
		}
		x, y := coords[0][0], coords[0][1]
		if !multiContains(zone, x, y) {
			continue
		}
		if tooClose(kept, x, y, 50) {
			continue
		}
		kept = append(kept, [2]float64{x, y})

		start := river.Geom.Coords()[0]
		pt := geom.NewPoint(geom.XY)
		pt.MustSetCoords(geom.Coord{start[0], start[1]})
		out = append(out, model.Spring{Geom: pt, Kind: "NASCENTE"})
	}
	return out, nil
}

// ReadPolygons loads every polygon from a shapefile as one geometry list, in
// file order. Used for the optional native-vegetation layer.
func ReadPolygons(path string) ([]*geom.Polygon, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "hydro: open %s", path)
	}
	defer r.Close()

	var out []*geom.Polygon
	for r.Next() {
		_, s := r.Shape()
		poly, ok := s.(*shp.Polygon)
		if !ok {
			continue
		}
		g, err := polygonShape(poly)
		if err != nil {
			zap.L().Warn("hydro: skipping malformed polygon", zap.Error(err))
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// EstimateWidth guesses a watercourse width in meters from its name and type
// when the source carries no measured width.
func EstimateWidth(name, kind string) float64 {
	text := foldDiacritics(strings.ToLower(name + " " + kind))
	switch {
	case strings.Contains(text, "ribeirao"):
		return 8
	case strings.Contains(text, "corrego"), strings.Contains(text, "riacho"):
		return 5
	case strings.Contains(text, "rio"):
		return 10
	default:
		return 5
	}
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldDiacritics(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return out
}

// fieldNames maps folded lowercase DBF field names to their index.
type fieldNames map[string]int

func fieldIndex(fields []shp.Field) fieldNames {
	out := make(fieldNames, len(fields))
	for i, f := range fields {
		out[foldDiacritics(strings.ToLower(f.String()))] = i
	}
	return out
}

func (f fieldNames) attribute(r *shp.Reader, row int, candidates ...string) string {
	for _, c := range candidates {
		if idx, ok := f[c]; ok {
			return strings.TrimSpace(r.ReadAttribute(row, idx))
		}
	}
	return ""
}

func parseNumeric(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return v
}

func boxOverlaps(b shp.Box, bounds *geom.Bounds) bool {
	return b.MinX <= bounds.Max(0) && b.MaxX >= bounds.Min(0) &&
		b.MinY <= bounds.Max(1) && b.MaxY >= bounds.Min(1)
}

// polylineParts splits a multi-part polyline into one LineString per part.
func polylineParts(line *shp.PolyLine) []*geom.LineString {
	parts := make([]*geom.LineString, 0, len(line.Parts))
	for p := 0; p < len(line.Parts); p++ {
		start := int(line.Parts[p])
		end := len(line.Points)
		if p+1 < len(line.Parts) {
			end = int(line.Parts[p+1])
		}
		if end-start < 2 {
			continue
		}
		coords := make([]geom.Coord, 0, end-start)
		for _, pt := range line.Points[start:end] {
			coords = append(coords, geom.Coord{pt.X, pt.Y})
		}
		ls := geom.NewLineString(geom.XY)
		ls.MustSetCoords(coords)
		parts = append(parts, ls)
	}
	return parts
}

// polygonShape converts a shapefile polygon into a single polygon with the
// first ring as exterior and the rest as holes.
func polygonShape(poly *shp.Polygon) (*geom.Polygon, error) {
	line := shp.PolyLine(*poly)
	rings := make([][]geom.Coord, 0, len(line.Parts))
	for _, part := range polylineParts(&line) {
		rings = append(rings, part.Coords())
	}
	if len(rings) == 0 {
		return nil, eris.Wrap(geos.ErrInvalidGeometry, "hydro: polygon with no rings")
	}
	g := geom.NewPolygon(geom.XY)
	if _, err := g.SetCoords(rings); err != nil {
		return nil, eris.Wrap(err, "hydro: set polygon coords")
	}
	return g, nil
}

func multiContains(mp *geom.MultiPolygon, x, y float64) bool {
	for i := 0; i < mp.NumPolygons(); i++ {
		if geos.Contains(mp.Polygon(i), x, y) {
			return true
		}
	}
	return false
}

func tooClose(points [][2]float64, x, y, minDist float64) bool {
	for _, p := range points {
		if math.Hypot(p[0]-x, p[1]-y) < minDist {
			return true
		}
	}
	return false
}
