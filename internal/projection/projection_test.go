package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestRoundTrip(t *testing.T) {
	a := New()

	pt := geom.NewPoint(geom.XY)
	pt.MustSetCoords(geom.Coord{-46.6333, -23.5505})

	metric, err := a.ToMetric(pt)
	require.NoError(t, err)
	back, err := a.ToGeographic(metric)
	require.NoError(t, err)

	got := back.(*geom.Point)
	assert.InDelta(t, -46.6333, got.X(), 1e-6)
	assert.InDelta(t, -23.5505, got.Y(), 1e-6)
}

func TestMetricFrameProperties(t *testing.T) {
	a := New()

	project := func(lon, lat float64) (float64, float64) {
		pt := geom.NewPoint(geom.XY)
		pt.MustSetCoords(geom.Coord{lon, lat})
		m, err := a.ToMetric(pt)
		require.NoError(t, err)
		return m.(*geom.Point).X(), m.(*geom.Point).Y()
	}

	x1, y1 := project(-46.64, -23.55)
	x2, y2 := project(-46.63, -23.55)
	_, y3 := project(-46.64, -23.54)

	assert.Greater(t, x2, x1, "easting grows with longitude")
	assert.Greater(t, y3, y1, "northing grows with latitude")

	// 0.01 degrees of longitude near -23.5 is roughly a kilometer.
	assert.InDelta(t, 1020, x2-x1, 60)
	assert.InDelta(t, y1, y2, 30)
}

func TestPolygonRoundTrip(t *testing.T) {
	a := New()

	p := geom.NewPolygon(geom.XY)
	p.MustSetCoords([][]geom.Coord{
		{{-46.64, -23.55}, {-46.63, -23.55}, {-46.63, -23.54}, {-46.64, -23.54}, {-46.64, -23.55}},
		{{-46.637, -23.547}, {-46.634, -23.547}, {-46.634, -23.544}, {-46.637, -23.544}, {-46.637, -23.547}},
	})

	metric, err := a.MetricPolygon(p)
	require.NoError(t, err)
	require.Equal(t, 2, metric.NumLinearRings(), "holes survive projection")

	back, err := a.ToGeographic(metric)
	require.NoError(t, err)
	for i, c := range back.(*geom.Polygon).Coords()[0] {
		assert.InDelta(t, p.Coords()[0][i][0], c[0], 1e-6)
		assert.InDelta(t, p.Coords()[0][i][1], c[1], 1e-6)
	}
}

func TestInvalidInputs(t *testing.T) {
	a := New()

	_, err := a.ToMetric(nil)
	assert.Error(t, err)

	empty := geom.NewPolygon(geom.XY)
	_, err = a.ToMetric(empty)
	assert.Error(t, err)

	ring := geom.NewLinearRing(geom.XY)
	ring.MustSetCoords([]geom.Coord{{0, 0}, {1, 0}, {1, 1}, {0, 0}})
	_, err = a.ToMetric(ring)
	assert.Error(t, err)
}
