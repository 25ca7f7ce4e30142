// Package sicar writes the upload package for the rural environmental
// registry: one shapefile per layer with the registry attribute schema, plus
// a zip bundle and an area-summary workbook.
package sicar

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/geolavoura/carcalc/internal/geos"
	"github.com/geolavoura/carcalc/internal/model"
)

// wgs84WKT is the .prj sidecar content. The registry only accepts geographic
// WGS84 coordinates.
const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// Layer file names inside the package.
const (
	LayerParcel  = "AREA_IMOVEL"
	LayerZones   = "APP"
	LayerReserve = "RESERVA_LEGAL"
	LayerHydro   = "HIDROGRAFIA"
)

// Builder accumulates layers under <base>/<name>/shapefiles and zips them.
type Builder struct {
	name   string
	dir    string
	layers []string
}

// NewBuilder creates the output directory tree for one parcel package.
func NewBuilder(base, name string) (*Builder, error) {
	dir := filepath.Join(base, name, "shapefiles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "sicar: create output dir %s", dir)
	}
	return &Builder{name: name, dir: dir}, nil
}

// Dir returns the directory holding the layer shapefiles.
func (b *Builder) Dir() string { return b.dir }

// AddParcel writes the perimeter layer.
func (b *Builder) AddParcel(parcel *model.Parcel) error {
	w, err := b.createLayer(LayerParcel, shp.POLYGON, []shp.Field{
		shp.StringField("COD_IMOVEL", 50),
		shp.StringField("NOM_IMOVEL", 100),
		shp.FloatField("MOD_FISCAL", 12, 4),
		shp.FloatField("NUM_AREA", 16, 4),
		shp.StringField("COD_ESTADO", 2),
		shp.StringField("COD_MUNICI", 60),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	row := w.Write(polygonShape(geos.Multi(parcel.Boundary)))
	w.WriteAttribute(int(row), 0, "")
	w.WriteAttribute(int(row), 1, parcel.Name)
	w.WriteAttribute(int(row), 2, parcel.FiscalModules)
	w.WriteAttribute(int(row), 3, parcel.AreaHa)
	w.WriteAttribute(int(row), 4, parcel.State)
	w.WriteAttribute(int(row), 5, parcel.Municipality)
	return b.finishLayer(LayerParcel, 1)
}

// AddZones writes the protection-zone layer, one feature per zone. An empty
// collection writes nothing.
func (b *Builder) AddZones(zones model.ZoneCollection) error {
	if len(zones.Zones) == 0 {
		zap.L().Warn("sicar: no protection zones, layer skipped", zap.String("layer", LayerZones))
		return nil
	}
	w, err := b.createLayer(LayerZones, shp.POLYGON, []shp.Field{
		shp.StringField("COD_APP", 20),
		shp.StringField("TIP_APP", 40),
		shp.StringField("DES_CONDIC", 30),
		shp.FloatField("NUM_AREA", 16, 4),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	for _, z := range zones.Zones {
		row := w.Write(polygonShape(z.Geom))
		w.WriteAttribute(int(row), 0, z.Code)
		w.WriteAttribute(int(row), 1, string(z.Class))
		w.WriteAttribute(int(row), 2, z.Condition)
		w.WriteAttribute(int(row), 3, z.AreaHa)
	}
	return b.finishLayer(LayerZones, len(zones.Zones))
}

// AddReserve writes the legal-reserve layer. An empty allocation geometry
// writes nothing.
func (b *Builder) AddReserve(alloc model.Allocation) error {
	if geos.IsEmpty(alloc.Geom) {
		zap.L().Warn("sicar: empty reserve allocation, layer skipped", zap.String("layer", LayerReserve))
		return nil
	}
	w, err := b.createLayer(LayerReserve, shp.POLYGON, []shp.Field{
		shp.StringField("COD_RL", 20),
		shp.StringField("DES_CONDIC", 30),
		shp.FloatField("NUM_AREA", 16, 4),
		shp.StringField("IND_AVERB", 3),
		shp.StringField("NUM_MATRIC", 30),
		shp.FloatField("PCT_EXIG", 8, 2),
		shp.FloatField("AREA_EXIG", 16, 4),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	averbada := "NAO"
	if alloc.Registered {
		averbada = "SIM"
	}
	row := w.Write(polygonShape(alloc.Geom))
	w.WriteAttribute(int(row), 0, alloc.Code)
	w.WriteAttribute(int(row), 1, alloc.Condition)
	w.WriteAttribute(int(row), 2, alloc.AreaHa)
	w.WriteAttribute(int(row), 3, averbada)
	w.WriteAttribute(int(row), 4, alloc.RegistryRef)
	w.WriteAttribute(int(row), 5, alloc.PercentRequired)
	w.WriteAttribute(int(row), 6, alloc.RequiredAreaHa)
	return b.finishLayer(LayerReserve, 1)
}

// AddHydrography writes the watercourse layer used as calculation evidence.
func (b *Builder) AddHydrography(rivers []model.Watercourse) error {
	if len(rivers) == 0 {
		return nil
	}
	w, err := b.createLayer(LayerHydro, shp.POLYLINE, []shp.Field{
		shp.StringField("COD_HIDRO", 20),
		shp.StringField("TIP_HIDRO", 40),
		shp.StringField("NOM_HIDRO", 100),
		shp.FloatField("LARGURA_M", 10, 2),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	for i, river := range rivers {
		row := w.Write(lineShape(river.Geom))
		w.WriteAttribute(int(row), 0, code("HID", i+1))
		w.WriteAttribute(int(row), 1, river.Kind)
		w.WriteAttribute(int(row), 2, river.Name)
		w.WriteAttribute(int(row), 3, river.WidthM)
	}
	return b.finishLayer(LayerHydro, len(rivers))
}

// BuildZip bundles every shapefile component into car_upload.zip next to the
// shapefiles directory and verifies the required components are present.
func (b *Builder) BuildZip() (string, error) {
	zipPath := filepath.Join(filepath.Dir(b.dir), "car_upload.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "sicar: create %s", zipPath)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return "", eris.Wrapf(err, "sicar: read %s", b.dir)
	}

	seen := map[string]bool{}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".shp", ".shx", ".dbf", ".prj", ".cpg":
		default:
			continue
		}
		if err := addToZip(zw, filepath.Join(b.dir, entry.Name()), entry.Name()); err != nil {
			return "", err
		}
		seen[ext] = true
	}
	if err := zw.Close(); err != nil {
		return "", eris.Wrap(err, "sicar: finalize zip")
	}

	for _, required := range []string{".shp", ".shx", ".dbf", ".prj"} {
		if !seen[required] {
			zap.L().Warn("sicar: package may be incomplete",
				zap.String("missing_extension", required))
		}
	}

	zap.L().Info("sicar: package built",
		zap.String("path", zipPath),
		zap.Strings("layers", b.layers),
	)
	return zipPath, nil
}

// WriteSummary writes the area workbook: one row per layer feature group with
// areas in square meters, hectares and square kilometers, plus the fiscal
// module count of the parcel.
func (b *Builder) WriteSummary(parcel *model.Parcel, zones model.ZoneCollection, alloc model.Allocation, fiscalModuleHa float64) (string, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Areas")
	if err != nil {
		return "", eris.Wrap(err, "sicar: add summary sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Camada", "Area (m2)", "Area (ha)", "Area (km2)", "Modulos fiscais"} {
		header.AddCell().Value = h
	}

	addArea := func(label string, ha float64, modules float64) {
		row := sheet.AddRow()
		row.AddCell().Value = label
		row.AddCell().SetFloat(ha * 10000)
		row.AddCell().SetFloat(ha)
		row.AddCell().SetFloat(ha / 100)
		if modules > 0 {
			row.AddCell().SetFloat(modules)
		}
	}

	addArea(LayerParcel, parcel.AreaHa, parcel.AreaHa/fiscalModuleHa)
	for _, class := range []model.ZoneClass{
		model.ZoneRiverMargin, model.ZoneSpring, model.ZoneLake, model.ZoneSlope,
	} {
		subset := zones.ByClass(class)
		if len(subset) == 0 {
			continue
		}
		addArea("APP "+string(class), model.ZoneCollection{Zones: subset}.TotalAreaHa(), 0)
	}
	addArea(LayerReserve, alloc.AreaHa, 0)

	path := filepath.Join(filepath.Dir(b.dir), "areas.xlsx")
	if err := file.Save(path); err != nil {
		return "", eris.Wrapf(err, "sicar: save %s", path)
	}
	return path, nil
}

func (b *Builder) createLayer(name string, shapeType shp.ShapeType, fields []shp.Field) (*shp.Writer, error) {
	path := filepath.Join(b.dir, name+".shp")
	w, err := shp.Create(path, shapeType)
	if err != nil {
		return nil, eris.Wrapf(err, "sicar: create layer %s", name)
	}
	w.SetFields(fields)
	return w, nil
}

// finishLayer writes the .prj and .cpg sidecars the shapefile writer does not
// produce and records the layer for the zip manifest.
func (b *Builder) finishLayer(name string, features int) error {
	base := filepath.Join(b.dir, name)
	if err := os.WriteFile(base+".prj", []byte(wgs84WKT), 0o644); err != nil {
		return eris.Wrapf(err, "sicar: write %s.prj", name)
	}
	if err := os.WriteFile(base+".cpg", []byte("UTF-8"), 0o644); err != nil {
		return eris.Wrapf(err, "sicar: write %s.cpg", name)
	}
	b.layers = append(b.layers, name)
	zap.L().Info("sicar: layer written",
		zap.String("layer", name), zap.Int("features", features))
	return nil
}

func addToZip(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "sicar: open %s", path)
	}
	defer src.Close()
	dst, err := zw.Create(name)
	if err != nil {
		return eris.Wrapf(err, "sicar: zip entry %s", name)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return eris.Wrapf(err, "sicar: copy %s", name)
	}
	return nil
}

func code(prefix string, seq int) string {
	return fmt.Sprintf("%s_%03d", prefix, seq)
}

// polygonShape flattens a multipolygon into one shapefile polygon record with
// every ring as a part.
func polygonShape(mp *geom.MultiPolygon) *shp.Polygon {
	var points []shp.Point
	var parts []int32
	for i := 0; i < mp.NumPolygons(); i++ {
		for _, ring := range mp.Polygon(i).Coords() {
			parts = append(parts, int32(len(points)))
			for _, c := range ring {
				points = append(points, shp.Point{X: c[0], Y: c[1]})
			}
		}
	}
	poly := shp.Polygon(polyline(points, parts))
	return &poly
}

func lineShape(l *geom.LineString) *shp.PolyLine {
	coords := l.Coords()
	points := make([]shp.Point, 0, len(coords))
	for _, c := range coords {
		points = append(points, shp.Point{X: c[0], Y: c[1]})
	}
	line := polyline(points, []int32{0})
	return &line
}

func polyline(points []shp.Point, parts []int32) shp.PolyLine {
	box := shp.Box{}
	for i, p := range points {
		if i == 0 {
			box = shp.Box{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
			continue
		}
		if p.X < box.MinX {
			box.MinX = p.X
		}
		if p.Y < box.MinY {
			box.MinY = p.Y
		}
		if p.X > box.MaxX {
			box.MaxX = p.X
		}
		if p.Y > box.MaxY {
			box.MaxY = p.Y
		}
	}
	return shp.PolyLine{
		Box:       box,
		NumParts:  int32(len(parts)),
		NumPoints: int32(len(points)),
		Parts:     parts,
		Points:    points,
	}
}
