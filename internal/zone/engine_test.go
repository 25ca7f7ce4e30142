package zone

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/geolavoura/carcalc/internal/config"
	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/projection"
	"github.com/geolavoura/carcalc/internal/raster"
)

// Test fixtures are laid out in the metric frame around an easting/northing
// base in the calculator's UTM zone, then converted to the geographic frame
// the engine expects for its inputs.
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
	return &model.Parcel{Name: "test", Metric: metric, AreaHa: 100}
}

func toGeoLine(t *testing.T, coords []geom.Coord) *geom.LineString {
	t.Helper()
	l := geom.NewLineString(geom.XY)
	l.MustSetCoords(coords)
	g, err := projection.New().ToGeographic(l)
	require.NoError(t, err)
	return g.(*geom.LineString)
}

func toGeoPoint(t *testing.T, x, y float64) *geom.Point {
	t.Helper()
	p := geom.NewPoint(geom.XY)
	p.MustSetCoords(geom.Coord{x, y})
	g, err := projection.New().ToGeographic(p)
	require.NoError(t, err)
	return g.(*geom.Point)
}

func toGeoSquare(t *testing.T, x, y, size float64) *geom.Polygon {
	t.Helper()
	p := geom.NewPolygon(geom.XY)
	p.MustSetCoords([][]geom.Coord{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}})
	g, err := projection.New().ToGeographic(p)
	require.NoError(t, err)
	return g.(*geom.Polygon)
}

func newTestEngine() *Engine {
	return New(config.DefaultRules(), projection.New())
}

func TestCalculateRequiresParcel(t *testing.T) {
	_, err := newTestEngine().Calculate(context.Background(), nil, Inputs{})
	assert.Error(t, err)
}

func TestCalculateEmptyInputs(t *testing.T) {
	zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{})
	require.NoError(t, err)
	assert.Empty(t, zones.Zones)
	assert.Zero(t, zones.TotalAreaHa())
}

func TestRiverMarginZones(t *testing.T) {
	t.Run("narrow river crossing the parcel", func(t *testing.T) {
		river := model.Watercourse{
			Geom: toGeoLine(t, []geom.Coord{
				{baseX - 2000, baseY + 500}, {baseX + 3000, baseY + 500},
			}),
			Name:   "Córrego Fundo",
			WidthM: 5,
		}

		zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
			Watercourses: []model.Watercourse{river},
		})
		require.NoError(t, err)
		require.Len(t, zones.Zones, 1)

		z := zones.Zones[0]
		assert.Equal(t, "APP_MARGEM_001", z.Code)
		assert.Equal(t, model.ZoneRiverMargin, z.Class)
		assert.Equal(t, model.CondToClassify, z.Condition)
		assert.Equal(t, 30.0, z.BufferM)
		assert.Equal(t, 5.0, z.RiverWidthM)
		// 30 m on each side across the full 1 km crossing.
		assert.InDelta(t, 6.0, z.AreaHa, 0.05)
	})

	t.Run("wide river gets the wide margin", func(t *testing.T) {
		river := model.Watercourse{
			Geom: toGeoLine(t, []geom.Coord{
				{baseX - 2000, baseY + 500}, {baseX + 3000, baseY + 500},
			}),
			Name:   "Rio Grande",
			WidthM: 300,
		}

		zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
			Watercourses: []model.Watercourse{river},
		})
		require.NoError(t, err)
		require.Len(t, zones.Zones, 1)
		assert.Equal(t, 200.0, zones.Zones[0].BufferM)
		assert.InDelta(t, 40.0, zones.Zones[0].AreaHa, 0.2)
	})

	t.Run("unknown width uses the default", func(t *testing.T) {
		river := model.Watercourse{
			Geom: toGeoLine(t, []geom.Coord{
				{baseX - 2000, baseY + 500}, {baseX + 3000, baseY + 500},
			}),
		}

		zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
			Watercourses: []model.Watercourse{river},
		})
		require.NoError(t, err)
		require.Len(t, zones.Zones, 1)
		assert.Equal(t, 5.0, zones.Zones[0].RiverWidthM)
		assert.Equal(t, 30.0, zones.Zones[0].BufferM)
	})

	t.Run("river beyond its margin leaves no zone", func(t *testing.T) {
		river := model.Watercourse{
			Geom: toGeoLine(t, []geom.Coord{
				{baseX - 2000, baseY + 1100}, {baseX + 3000, baseY + 1100},
			}),
			WidthM: 5,
		}

		zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
			Watercourses: []model.Watercourse{river},
		})
		require.NoError(t, err)
		assert.Empty(t, zones.Zones)
	})

	t.Run("river outside with margin reaching in", func(t *testing.T) {
		// 20 m north of the boundary, so 10 m of the 30 m margin falls inside.
		river := model.Watercourse{
			Geom: toGeoLine(t, []geom.Coord{
				{baseX - 2000, baseY + 1020}, {baseX + 3000, baseY + 1020},
			}),
			WidthM: 5,
		}

		zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
			Watercourses: []model.Watercourse{river},
		})
		require.NoError(t, err)
		require.Len(t, zones.Zones, 1)
		assert.InDelta(t, 1.0, zones.Zones[0].AreaHa, 0.05)
	})
}

func TestSpringZones(t *testing.T) {
	spring := model.Spring{Geom: toGeoPoint(t, baseX+500, baseY+500)}

	zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
		Springs: []model.Spring{spring},
	})
	require.NoError(t, err)
	require.Len(t, zones.Zones, 1)

	z := zones.Zones[0]
	assert.Equal(t, "APP_NASC_001", z.Code)
	assert.Equal(t, model.ZoneSpring, z.Class)
	assert.Equal(t, 50.0, z.BufferM)
	// pi * 50^2, slightly under due to the polygonal circle.
	assert.InDelta(t, 0.785, z.AreaHa, 0.01)
}

func TestLakeZones(t *testing.T) {
	t.Run("small lake ring", func(t *testing.T) {
		lake := model.Lake{
			Geom: toGeoSquare(t, baseX+450, baseY+450, 100),
			Name: "Lagoa Azul",
		}

		zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
			Lakes: []model.Lake{lake},
		})
		require.NoError(t, err)
		require.Len(t, zones.Zones, 1)

		z := zones.Zones[0]
		assert.Equal(t, "APP_LAGO_001", z.Code)
		assert.Equal(t, 50.0, z.BufferM)
		assert.InDelta(t, 1.0, z.LakeAreaHa, 0.01, "area computed from geometry")
		// Ring only: perimeter * 50 plus rounded corners, lake interior excluded.
		assert.InDelta(t, 2.78, z.AreaHa, 0.05)
	})

	t.Run("large lake gets the wide ring", func(t *testing.T) {
		lake := model.Lake{
			Geom:   toGeoSquare(t, baseX+250, baseY+250, 500),
			AreaHa: 25,
		}

		zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
			Lakes: []model.Lake{lake},
		})
		require.NoError(t, err)
		require.Len(t, zones.Zones, 1)
		assert.Equal(t, 100.0, zones.Zones[0].BufferM)
		assert.Equal(t, 25.0, zones.Zones[0].LakeAreaHa)
	})
}

func TestSlopeZones(t *testing.T) {
	// A cliff running north-south through the middle of the parcel.
	dem := &raster.Grid{
		Rows: 10, Cols: 10,
		OriginX: baseX, OriginY: baseY,
		CellSize: 100, NoData: -9999,
	}
	dem.Data = make([]float64, 100)
	for row := 0; row < 10; row++ {
		for col := 0; col < 10; col++ {
			if col >= 5 {
				dem.Data[row*10+col] = 1000
			}
		}
	}

	zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{DEM: dem})
	require.NoError(t, err)
	require.NotEmpty(t, zones.Zones)

	z := zones.Zones[0]
	assert.Equal(t, "APP_DECLIV_001", z.Code)
	assert.Equal(t, model.ZoneSlope, z.Class)
	assert.Greater(t, z.AreaHa, 0.0)
}

func TestZoneCodesAreSequencedPerClass(t *testing.T) {
	rivers := []model.Watercourse{
		{Geom: toGeoLine(t, []geom.Coord{{baseX - 500, baseY + 200}, {baseX + 1500, baseY + 200}}), WidthM: 5},
		{Geom: toGeoLine(t, []geom.Coord{{baseX - 500, baseY + 800}, {baseX + 1500, baseY + 800}}), WidthM: 5},
	}
	springs := []model.Spring{
		{Geom: toGeoPoint(t, baseX+500, baseY+500)},
	}

	zones, err := newTestEngine().Calculate(context.Background(), testParcel(t), Inputs{
		Watercourses: rivers,
		Springs:      springs,
	})
	require.NoError(t, err)
	require.Len(t, zones.Zones, 3)

	var codes []string
	for _, z := range zones.Zones {
		codes = append(codes, z.Code)
	}
	assert.Equal(t, []string{"APP_MARGEM_001", "APP_MARGEM_002", "APP_NASC_001"}, codes)
}
