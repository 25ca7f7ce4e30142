package kml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolavoura/carcalc/internal/geos"
)

const simpleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Placemark>
      <name>Sitio Boa Vista</name>
      <Polygon>
        <outerBoundaryIs>
          <LinearRing>
            <coordinates>
              -46.64,-23.55,0 -46.63,-23.55,0 -46.63,-23.54,0 -46.64,-23.54,0 -46.64,-23.55,0
            </coordinates>
          </LinearRing>
        </outerBoundaryIs>
      </Polygon>
    </Placemark>
  </Document>
</kml>`

func TestParseSimpleDocument(t *testing.T) {
	poly, name, err := Parse(strings.NewReader(simpleDoc))
	require.NoError(t, err)

	assert.Equal(t, "Sitio Boa Vista", name)
	require.Equal(t, 1, poly.NumLinearRings())
	ring := poly.Coords()[0]
	require.Len(t, ring, 5)
	assert.Equal(t, -46.64, ring[0][0])
	assert.Equal(t, -23.55, ring[0][1])
}

func TestParseClosesOpenRing(t *testing.T) {
	doc := `<kml><Placemark><Polygon><outerBoundaryIs><LinearRing><coordinates>
		-46.64,-23.55 -46.63,-23.55 -46.63,-23.54 -46.64,-23.54
	</coordinates></LinearRing></outerBoundaryIs></Polygon></Placemark></kml>`

	poly, _, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	ring := poly.Coords()[0]
	require.Len(t, ring, 5, "ring closed by repeating the first vertex")
	assert.Equal(t, ring[0], ring[4])
}

func TestParseKeepsInnerRings(t *testing.T) {
	doc := `<kml><Placemark><Polygon>
		<outerBoundaryIs><LinearRing><coordinates>
			-46.64,-23.55 -46.63,-23.55 -46.63,-23.54 -46.64,-23.54 -46.64,-23.55
		</coordinates></LinearRing></outerBoundaryIs>
		<innerBoundaryIs><LinearRing><coordinates>
			-46.637,-23.547 -46.634,-23.547 -46.634,-23.544 -46.637,-23.544 -46.637,-23.547
		</coordinates></LinearRing></innerBoundaryIs>
	</Polygon></Placemark></kml>`

	poly, _, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, poly.NumLinearRings())
}

func TestParseKeepsLargestPolygon(t *testing.T) {
	doc := `<kml><Document>
		<Placemark><name>dois talhoes</name><MultiGeometry>
			<Polygon><outerBoundaryIs><LinearRing><coordinates>
				-46.60,-23.55 -46.599,-23.55 -46.599,-23.549 -46.60,-23.549 -46.60,-23.55
			</coordinates></LinearRing></outerBoundaryIs></Polygon>
			<Polygon><outerBoundaryIs><LinearRing><coordinates>
				-46.64,-23.55 -46.63,-23.55 -46.63,-23.54 -46.64,-23.54 -46.64,-23.55
			</coordinates></LinearRing></outerBoundaryIs></Polygon>
		</MultiGeometry></Placemark>
	</Document></kml>`

	poly, name, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "dois talhoes", name)
	assert.Greater(t, geos.Area(poly), 0.00005, "the big square won")
}

func TestParseNoPolygon(t *testing.T) {
	doc := `<kml><Placemark><name>trilha</name><LineString><coordinates>
		-46.64,-23.55 -46.63,-23.55
	</coordinates></LineString></Placemark></kml>`

	_, _, err := Parse(strings.NewReader(doc))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoPolygon))
}

func TestParseSkipsMalformedPolygon(t *testing.T) {
	// The degenerate polygon is skipped with a warning; the good one is kept.
	doc := `<kml><Document>
		<Polygon><outerBoundaryIs><LinearRing><coordinates>
			-46.64,-23.55
		</coordinates></LinearRing></outerBoundaryIs></Polygon>
		<Polygon><outerBoundaryIs><LinearRing><coordinates>
			-46.64,-23.55 -46.63,-23.55 -46.63,-23.54 -46.64,-23.55
		</coordinates></LinearRing></outerBoundaryIs></Polygon>
	</Document></kml>`

	poly, _, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.NotNil(t, poly)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perimeter.kml")
	require.NoError(t, os.WriteFile(path, []byte(simpleDoc), 0o644))

	poly, name, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Sitio Boa Vista", name)
	assert.NotNil(t, poly)

	_, _, err = ParseFile(filepath.Join(t.TempDir(), "absent.kml"))
	assert.Error(t, err)
}

func TestParseCoordinates(t *testing.T) {
	t.Run("altitude ignored", func(t *testing.T) {
		coords, err := parseCoordinates("-46.64,-23.55,812 -46.63,-23.55,810 -46.63,-23.54")
		require.NoError(t, err)
		require.Len(t, coords, 3)
		assert.Equal(t, -46.64, coords[0][0])
		assert.Equal(t, -23.54, coords[2][1])
	})

	t.Run("malformed tuple", func(t *testing.T) {
		_, err := parseCoordinates("-46.64,-23.55 -46.63 -46.62,-23.54")
		assert.Error(t, err)
	})

	t.Run("bad number", func(t *testing.T) {
		_, err := parseCoordinates("-46.64,-23.55 abc,-23.55 -46.62,-23.54")
		assert.Error(t, err)
	})
}
