package hydro

import (
	"path/filepath"
	"testing"

	shp "github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/geolavoura/carcalc/internal/config"
	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/projection"
)

const (
	baseX = 330000.0
	baseY = 7390000.0
)

func testParcel(t *testing.T) *model.Parcel {
	t.Helper()
	metric := geom.NewPolygon(geom.XY)
	metric.MustSetCoords([][]geom.Coord{{
		{baseX, baseY}, {baseX + 1000, baseY},
		{baseX + 1000, baseY + 1000}, {baseX, baseY + 1000},
		{baseX, baseY},
	}})
	return &model.Parcel{Name: "test", Metric: metric}
}

// geoPt converts a metric coordinate into a geographic shapefile point.
func geoPt(t *testing.T, x, y float64) shp.Point {
	t.Helper()
	p := geom.NewPoint(geom.XY)
	p.MustSetCoords(geom.Coord{x, y})
	g, err := projection.New().ToGeographic(p)
	require.NoError(t, err)
	pt := g.(*geom.Point)
	return shp.Point{X: pt.X(), Y: pt.Y()}
}

func writeRiverFile(t *testing.T, dir string) {
	t.Helper()
	w, err := shp.Create(filepath.Join(dir, "drenagem.shp"), shp.POLYLINE)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NOME", 50),
		shp.FloatField("LARGURA", 13, 2),
	}))

	// Starts inside the parcel, so its upstream endpoint is a spring.
	near := shp.NewPolyLine([][]shp.Point{{
		geoPt(t, baseX+500, baseY+500),
		geoPt(t, baseX+500, baseY+2000),
		geoPt(t, baseX+500, baseY+5000),
	}})
	row := w.Write(near)
	require.NoError(t, w.WriteAttribute(int(row), 0, "Córrego Fundo"))
	require.NoError(t, w.WriteAttribute(int(row), 1, 4.5))

	// 100 km away, outside any plausible search radius.
	far := shp.NewPolyLine([][]shp.Point{{
		geoPt(t, baseX+100000, baseY+100000),
		geoPt(t, baseX+100000, baseY+101000),
	}})
	row = w.Write(far)
	require.NoError(t, w.WriteAttribute(int(row), 0, "Rio Distante"))
	require.NoError(t, w.WriteAttribute(int(row), 1, 40.0))

	w.Close()
}

func writeLakeFile(t *testing.T, dir string) {
	t.Helper()
	w, err := shp.Create(filepath.Join(dir, "lagos.shp"), shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NOME", 50),
	}))

	lake := shp.Polygon(*shp.NewPolyLine([][]shp.Point{{
		geoPt(t, baseX+100, baseY+100),
		geoPt(t, baseX+100, baseY+300),
		geoPt(t, baseX+300, baseY+300),
		geoPt(t, baseX+300, baseY+100),
		geoPt(t, baseX+100, baseY+100),
	}}))
	row := w.Write(&lake)
	require.NoError(t, w.WriteAttribute(int(row), 0, "Lagoa Azul"))
	w.Close()
}

func newTestLoader(dir string) *Loader {
	return NewLoader(config.HydroConfig{DataDir: dir, SearchBufferKM: 2}, projection.New())
}

func TestLoadEmptyDirectory(t *testing.T) {
	features, err := newTestLoader(t.TempDir()).Load(testParcel(t))
	require.NoError(t, err)
	assert.Empty(t, features.Watercourses)
	assert.Empty(t, features.Lakes)
	assert.Empty(t, features.Springs)
}

func TestLoadWatercourses(t *testing.T) {
	dir := t.TempDir()
	writeRiverFile(t, dir)

	features, err := newTestLoader(dir).Load(testParcel(t))
	require.NoError(t, err)

	require.Len(t, features.Watercourses, 1, "distant river filtered out")
	river := features.Watercourses[0]
	assert.Equal(t, "Córrego Fundo", river.Name)
	assert.Equal(t, 4.5, river.WidthM)
	assert.Equal(t, 3, river.Geom.NumCoords())

	require.Len(t, features.Springs, 1, "upstream endpoint inside the parcel")
	assert.Equal(t, "NASCENTE", features.Springs[0].Kind)
}

func TestLoadLakes(t *testing.T) {
	dir := t.TempDir()
	writeLakeFile(t, dir)

	features, err := newTestLoader(dir).Load(testParcel(t))
	require.NoError(t, err)

	require.Len(t, features.Lakes, 1)
	assert.Equal(t, "Lagoa Azul", features.Lakes[0].Name)
	assert.Equal(t, 1, features.Lakes[0].Geom.NumLinearRings())
}

func TestReadPolygons(t *testing.T) {
	dir := t.TempDir()
	writeLakeFile(t, dir)

	polys, err := ReadPolygons(filepath.Join(dir, "lagos.shp"))
	require.NoError(t, err)
	require.Len(t, polys, 1)
	assert.Equal(t, 5, len(polys[0].Coords()[0]))

	_, err = ReadPolygons(filepath.Join(dir, "absent.shp"))
	assert.Error(t, err)
}

func TestEstimateWidth(t *testing.T) {
	tests := []struct {
		name string
		kind string
		want float64
	}{
		{"Ribeirão das Pedras", "", 8},
		{"RIBEIRAO GRANDE", "", 8},
		{"Córrego Azul", "", 5},
		{"", "riacho", 5},
		{"Rio Tietê", "", 10},
		{"", "rio perene", 10},
		{"sem nome", "", 5},
		{"", "", 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateWidth(tt.name, tt.kind), "%q %q", tt.name, tt.kind)
	}
}

func TestFoldDiacritics(t *testing.T) {
	assert.Equal(t, "corrego sao joao", foldDiacritics("córrego são joão"))
	assert.Equal(t, "plain", foldDiacritics("plain"))
}

func TestParseNumeric(t *testing.T) {
	assert.Equal(t, 12.5, parseNumeric("12,5"))
	assert.Equal(t, 3.75, parseNumeric("3.75"))
	assert.Zero(t, parseNumeric(""))
	assert.Zero(t, parseNumeric("n/d"))
}

func TestBoxOverlaps(t *testing.T) {
	bounds := geom.NewBounds(geom.XY).Set(0, 0, 10, 10)

	assert.True(t, boxOverlaps(shp.Box{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}, bounds))
	assert.True(t, boxOverlaps(shp.Box{MinX: -5, MinY: -5, MaxX: 0, MaxY: 0}, bounds), "touching counts")
	assert.False(t, boxOverlaps(shp.Box{MinX: 11, MinY: 0, MaxX: 20, MaxY: 10}, bounds))
	assert.False(t, boxOverlaps(shp.Box{MinX: 0, MinY: 20, MaxX: 10, MaxY: 30}, bounds))
}

func TestPolylineParts(t *testing.T) {
	line := &shp.PolyLine{
		NumParts:  2,
		NumPoints: 5,
		Parts:     []int32{0, 3},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0},
			{X: 10, Y: 10}, {X: 11, Y: 10},
		},
	}

	parts := polylineParts(line)
	require.Len(t, parts, 2)
	assert.Equal(t, 3, parts[0].NumCoords())
	assert.Equal(t, 2, parts[1].NumCoords())
	assert.Equal(t, 10.0, parts[1].Coord(0)[0])
}

func TestPolylinePartsSkipsDegenerate(t *testing.T) {
	line := &shp.PolyLine{
		NumParts:  2,
		NumPoints: 3,
		Parts:     []int32{0, 2},
		Points:    []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 5, Y: 5}},
	}
	parts := polylineParts(line)
	require.Len(t, parts, 1, "single-point part dropped")
	assert.Equal(t, 2, parts[0].NumCoords())
}

func TestTooClose(t *testing.T) {
	pts := [][2]float64{{0, 0}, {100, 100}}
	assert.True(t, tooClose(pts, 10, 10, 50))
	assert.False(t, tooClose(pts, 60, 60, 50))
	assert.False(t, tooClose(nil, 0, 0, 50))
}
