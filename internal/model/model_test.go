package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestZoneCollection(t *testing.T) {
	c := ZoneCollection{Zones: []ProtectionZone{
		{Code: "APP_MARGEM_001", Class: ZoneRiverMargin, AreaHa: 1.5},
		{Code: "APP_MARGEM_002", Class: ZoneRiverMargin, AreaHa: 0.5},
		{Code: "APP_NASC_001", Class: ZoneSpring, AreaHa: 0.25},
	}}

	assert.InDelta(t, 2.25, c.TotalAreaHa(), 1e-9)

	rivers := c.ByClass(ZoneRiverMargin)
	require.Len(t, rivers, 2)
	assert.Equal(t, "APP_MARGEM_001", rivers[0].Code)

	assert.Empty(t, c.ByClass(ZoneSlope))
}

func TestAllocationComplete(t *testing.T) {
	assert.True(t, Allocation{Condition: CondProposed}.Complete())
	assert.False(t, Allocation{Condition: CondProposedIncomplete}.Complete())
}

func TestParcelJSONRoundTrip(t *testing.T) {
	boundary := geom.NewPolygon(geom.XY)
	boundary.MustSetCoords([][]geom.Coord{{
		{-46.64, -23.55}, {-46.63, -23.55}, {-46.63, -23.54}, {-46.64, -23.55},
	}})

	in := Parcel{
		Name:          "Sitio Boa Vista",
		State:         "SP",
		Municipality:  "Campinas",
		Boundary:      boundary,
		AreaHa:        104.5,
		FiscalModules: 6.53,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Polygon"`, "boundary serialized as GeoJSON")

	var out Parcel
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.AreaHa, out.AreaHa)
	require.NotNil(t, out.Boundary)
	assert.Equal(t, boundary.Coords(), out.Boundary.Coords())
	assert.Nil(t, out.Metric, "metric copy never travels")
}

func TestParcelJSONWithoutBoundary(t *testing.T) {
	data, err := json.Marshal(Parcel{Name: "x"})
	require.NoError(t, err)

	var out Parcel
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Nil(t, out.Boundary)
}
