// Package raster reads gridded elevation data (ESRI ASCII grid) and derives
// steep-slope polygons from it. Grids are expected in the metric frame so that
// cell size and elevation share units.
package raster

import (
	"bufio"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/geolavoura/carcalc/internal/geos"
)

// Grid is a row-major elevation raster. Row 0 is the northernmost row, as in
// the ASC format; (OriginX, OriginY) is the lower-left corner.
type Grid struct {
	Rows     int
	Cols     int
	OriginX  float64
	OriginY  float64
	CellSize float64
	NoData   float64
	Data     []float64
}

// ReadASC parses an ESRI ASCII grid file.
func ReadASC(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close()

	g := &Grid{NoData: -9999}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	headers := 0
	for headers < 6 && sc.Scan() {
		fieldsLine := strings.Fields(sc.Text())
		if len(fieldsLine) != 2 {
			break
		}
		key := strings.ToLower(fieldsLine[0])
		val, perr := strconv.ParseFloat(fieldsLine[1], 64)
		if perr != nil {
			return nil, eris.Wrapf(perr, "raster: parse header %s", key)
		}
		switch key {
		case "ncols":
			g.Cols = int(val)
		case "nrows":
			g.Rows = int(val)
		case "xllcorner":
			g.OriginX = val
		case "yllcorner":
			g.OriginY = val
		case "cellsize":
			g.CellSize = val
		case "nodata_value":
			g.NoData = val
		default:
			return nil, eris.Errorf("raster: unexpected header %q", key)
		}
		headers++
	}
	if g.Rows <= 0 || g.Cols <= 0 || g.CellSize <= 0 {
		return nil, eris.Errorf("raster: incomplete header in %s", path)
	}

	g.Data = make([]float64, 0, g.Rows*g.Cols)
	for sc.Scan() {
		for _, tok := range strings.Fields(sc.Text()) {
			v, perr := strconv.ParseFloat(tok, 64)
			if perr != nil {
				return nil, eris.Wrap(perr, "raster: parse cell")
			}
			g.Data = append(g.Data, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "raster: read %s", path)
	}
	if len(g.Data) != g.Rows*g.Cols {
		return nil, eris.Errorf("raster: expected %d cells, got %d", g.Rows*g.Cols, len(g.Data))
	}
	return g, nil
}

// At returns the elevation at (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.Cols+col]
}

// CellCenter returns the metric coordinates of a cell center.
func (g *Grid) CellCenter(row, col int) (x, y float64) {
	x = g.OriginX + (float64(col)+0.5)*g.CellSize
	y = g.OriginY + (float64(g.Rows-row)-0.5)*g.CellSize
	return x, y
}

// Clip returns a copy of the grid with every cell whose center falls outside
// the polygon set to NoData.
func (g *Grid) Clip(p *geom.Polygon) *Grid {
	out := *g
	out.Data = make([]float64, len(g.Data))
	copy(out.Data, g.Data)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			x, y := g.CellCenter(row, col)
			if !geos.Contains(p, x, y) {
				out.Data[row*g.Cols+col] = g.NoData
			}
		}
	}
	return &out
}

// SlopeDegrees computes the local slope of each cell in degrees using central
// differences over the cell size. Edge cells replicate their neighbor; cells
// adjacent to NoData are NoData.
func (g *Grid) SlopeDegrees() []float64 {
	out := make([]float64, len(g.Data))
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			i := row*g.Cols + col
			left, right := g.neighbor(row, col-1), g.neighbor(row, col+1)
			up, down := g.neighbor(row-1, col), g.neighbor(row+1, col)
			if g.Data[i] == g.NoData ||
				left == g.NoData || right == g.NoData || up == g.NoData || down == g.NoData {
				out[i] = g.NoData
				continue
			}
			dzdx := (right - left) / (2 * g.CellSize)
			dzdy := (up - down) / (2 * g.CellSize)
			out[i] = math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi
		}
	}
	return out
}

// neighbor returns the elevation at (row, col), clamping indexes to the grid.
func (g *Grid) neighbor(row, col int) float64 {
	if row < 0 {
		row = 0
	}
	if row >= g.Rows {
		row = g.Rows - 1
	}
	if col < 0 {
		col = 0
	}
	if col >= g.Cols {
		col = g.Cols - 1
	}
	return g.At(row, col)
}

// SteepAreas vectorizes the cells whose slope exceeds thresholdDeg into
// polygons. Adjacent cells merge into contiguous parts via the union.
func (g *Grid) SteepAreas(thresholdDeg float64) (*geom.MultiPolygon, error) {
	slope := g.SlopeDegrees()
	var cells []geom.T
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			s := slope[row*g.Cols+col]
			if s == g.NoData || s <= thresholdDeg {
				continue
			}
			cells = append(cells, g.cellSquare(row, col))
		}
	}
	return geos.Union(cells...)
}

func (g *Grid) cellSquare(row, col int) *geom.Polygon {
	x0 := g.OriginX + float64(col)*g.CellSize
	y0 := g.OriginY + float64(g.Rows-row-1)*g.CellSize
	x1, y1 := x0+g.CellSize, y0+g.CellSize
	p := geom.NewPolygon(geom.XY)
	p.MustSetCoords([][]geom.Coord{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
	return p
}
