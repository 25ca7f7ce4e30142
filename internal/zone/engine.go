// Package zone implements the protection-zone (APP) engine: it classifies
// watercourses, springs, lakes and steep terrain into buffered zones clipped
// to the parcel, per Lei 12.651/2012.
package zone

import (
	"context"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geolavoura/carcalc/internal/config"
	"github.com/geolavoura/carcalc/internal/geos"
	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/projection"
	"github.com/geolavoura/carcalc/internal/raster"
)

// Inputs carries the typed feature collections for one parcel. All vector
// features are in geographic coordinates; the DEM, when present, is in the
// metric frame. Any collection may be empty.
type Inputs struct {
	Watercourses []model.Watercourse
	Springs      []model.Spring
	Lakes        []model.Lake
	DEM          *raster.Grid
}

// Engine computes protection zones. It holds only immutable configuration and
// is safe for concurrent use across parcels.
type Engine struct {
	rules config.Rules
	proj  *projection.Adapter
}

// New builds an engine with the given rule tables.
func New(rules config.Rules, proj *projection.Adapter) *Engine {
	return &Engine{rules: rules, proj: proj}
}

// Calculate buffers every feature in the metric frame, clips the buffers to
// the parcel, and emits one zone per non-empty intersection. The four feature
// types are independent and run concurrently; outputs keep input order within
// each classification.
func (e *Engine) Calculate(ctx context.Context, parcel *model.Parcel, in Inputs) (model.ZoneCollection, error) {
	if parcel == nil || geos.IsEmpty(parcel.Metric) {
		return model.ZoneCollection{}, eris.Wrap(geos.ErrInvalidGeometry, "zone: parcel boundary required")
	}

	var rivers, springs, lakes, slopes []model.ProtectionZone

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rivers, err = e.riverZones(parcel, in.Watercourses)
		return err
	})
	g.Go(func() error {
		var err error
		springs, err = e.springZones(parcel, in.Springs)
		return err
	})
	g.Go(func() error {
		var err error
		lakes, err = e.lakeZones(parcel, in.Lakes)
		return err
	})
	g.Go(func() error {
		slopes = e.slopeZones(parcel, in.DEM)
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.ZoneCollection{}, err
	}

	zones := make([]model.ProtectionZone, 0, len(rivers)+len(springs)+len(lakes)+len(slopes))
	zones = append(zones, rivers...)
	zones = append(zones, springs...)
	zones = append(zones, lakes...)
	zones = append(zones, slopes...)

	zap.L().Info("zone: calculation finished",
		zap.Int("river_margin", len(rivers)),
		zap.Int("spring", len(springs)),
		zap.Int("lake", len(lakes)),
		zap.Int("slope", len(slopes)),
	)

	return model.ZoneCollection{Zones: zones}, nil
}

// riverZones buffers each watercourse by the width-dependent margin. The
// buffer is computed from the feature geometry, not the parcel: a river just
// outside the boundary still imposes a protected strip inside it.
func (e *Engine) riverZones(parcel *model.Parcel, rivers []model.Watercourse) ([]model.ProtectionZone, error) {
	var zones []model.ProtectionZone
	minDist := math.Inf(1)

	for _, river := range rivers {
		width := river.WidthM
		if width <= 0 {
			width = e.rules.DefaultRiverWidthM
		}
		bufferM := e.rules.RiverBuffer(width)

		line, err := e.proj.ToMetric(river.Geom)
		if err != nil {
			zap.L().Warn("zone: skipping unprojectable watercourse",
				zap.String("name", river.Name), zap.Error(err))
			continue
		}
		metricLine := line.(*geom.LineString)

		buffered, err := geos.BufferLine(metricLine, bufferM)
		if err != nil {
			return nil, eris.Wrapf(err, "zone: buffer watercourse %q", river.Name)
		}
		inside, err := geos.Intersection(buffered, parcel.Metric)
		if err != nil {
			return nil, eris.Wrapf(err, "zone: clip watercourse %q", river.Name)
		}
		if geos.IsEmpty(inside) {
			if d := geos.LineDistance(metricLine, parcel.Metric); d < minDist {
				minDist = d
			}
			continue
		}

		z, err := e.emit(inside, model.ZoneRiverMargin, len(zones)+1, bufferM)
		if err != nil {
			return nil, err
		}
		z.RiverWidthM = width
		zones = append(zones, z)
	}

	if len(zones) == 0 && len(rivers) > 0 {
		zap.L().Info("zone: no river-margin zones created",
			zap.Float64("nearest_watercourse_m", minDist))
	}
	return zones, nil
}

// springZones buffers every spring point by the fixed statutory radius.
func (e *Engine) springZones(parcel *model.Parcel, springs []model.Spring) ([]model.ProtectionZone, error) {
	var zones []model.ProtectionZone
	for _, spring := range springs {
		pt, err := e.proj.ToMetric(spring.Geom)
		if err != nil {
			zap.L().Warn("zone: skipping unprojectable spring", zap.Error(err))
			continue
		}
		buffered := geos.BufferPoint(pt.(*geom.Point), e.rules.SpringRadiusM)
		inside, err := geos.Intersection(buffered, parcel.Metric)
		if err != nil {
			return nil, eris.Wrap(err, "zone: clip spring buffer")
		}
		if geos.IsEmpty(inside) {
			continue
		}
		z, err := e.emit(inside, model.ZoneSpring, len(zones)+1, e.rules.SpringRadiusM)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// lakeZones builds the ring around each lake: the buffered footprint minus the
// lake itself, so the lake interior is never claimed as protected zone.
func (e *Engine) lakeZones(parcel *model.Parcel, lakes []model.Lake) ([]model.ProtectionZone, error) {
	var zones []model.ProtectionZone
	for _, lake := range lakes {
		poly, err := e.proj.ToMetric(lake.Geom)
		if err != nil {
			zap.L().Warn("zone: skipping unprojectable lake",
				zap.String("name", lake.Name), zap.Error(err))
			continue
		}
		metricLake := poly.(*geom.Polygon)

		lakeAreaHa := lake.AreaHa
		if lakeAreaHa <= 0 {
			lakeAreaHa = geos.Hectares(metricLake)
		}
		bufferM := e.rules.LakeSmallBufferM
		if lakeAreaHa > e.rules.LakeLargeThresholdHa {
			bufferM = e.rules.LakeLargeBufferM
		}

		buffered, err := geos.BufferPolygon(metricLake, bufferM)
		if err != nil {
			return nil, eris.Wrapf(err, "zone: buffer lake %q", lake.Name)
		}
		ring, err := geos.Difference(buffered, metricLake)
		if err != nil {
			return nil, eris.Wrapf(err, "zone: lake ring %q", lake.Name)
		}
		inside, err := geos.Intersection(ring, parcel.Metric)
		if err != nil {
			return nil, eris.Wrapf(err, "zone: clip lake ring %q", lake.Name)
		}
		if geos.IsEmpty(inside) {
			continue
		}
		z, err := e.emit(inside, model.ZoneLake, len(zones)+1, bufferM)
		if err != nil {
			return nil, err
		}
		z.LakeAreaHa = lakeAreaHa
		zones = append(zones, z)
	}
	return zones, nil
}

// slopeZones derives >threshold terrain from the DEM. Every failure here is
// non-fatal: the raster is an optional source, so problems are logged and the
// run proceeds without slope zones.
func (e *Engine) slopeZones(parcel *model.Parcel, dem *raster.Grid) []model.ProtectionZone {
	if dem == nil {
		zap.L().Info("zone: no elevation raster, skipping slope zones")
		return nil
	}

	steep, err := dem.Clip(parcel.Metric).SteepAreas(e.rules.SlopeThresholdDeg)
	if err != nil {
		zap.L().Error("zone: slope vectorization failed", zap.Error(err))
		return nil
	}

	var zones []model.ProtectionZone
	for i := 0; i < steep.NumPolygons(); i++ {
		inside, err := geos.Intersection(steep.Polygon(i), parcel.Metric)
		if err != nil {
			zap.L().Error("zone: clip slope area failed", zap.Error(err))
			continue
		}
		if geos.IsEmpty(inside) {
			continue
		}
		z, err := e.emit(inside, model.ZoneSlope, len(zones)+1, 0)
		if err != nil {
			zap.L().Error("zone: emit slope zone failed", zap.Error(err))
			continue
		}
		zones = append(zones, z)
	}
	if len(zones) == 0 {
		zap.L().Info("zone: no terrain above slope threshold",
			zap.Float64("threshold_deg", e.rules.SlopeThresholdDeg))
	}
	return zones
}

// emit reprojects a clipped metric geometry to geographic coordinates and
// wraps it with the shared attribute schema. The sequence number is scoped to
// the classification.
func (e *Engine) emit(metric *geom.MultiPolygon, class model.ZoneClass, seq int, bufferM float64) (model.ProtectionZone, error) {
	geographic, err := e.proj.ToGeographic(metric)
	if err != nil {
		return model.ProtectionZone{}, eris.Wrapf(err, "zone: reproject %s zone", class)
	}
	return model.ProtectionZone{
		Geom:      geos.Multi(geographic),
		Code:      fmt.Sprintf("%s%03d", codePrefix(class), seq),
		Class:     class,
		Condition: model.CondToClassify,
		AreaHa:    round4(geos.Hectares(metric)),
		BufferM:   bufferM,
	}, nil
}

func codePrefix(class model.ZoneClass) string {
	switch class {
	case model.ZoneRiverMargin:
		return "APP_MARGEM_"
	case model.ZoneSpring:
		return "APP_NASC_"
	case model.ZoneLake:
		return "APP_LAGO_"
	case model.ZoneSlope:
		return "APP_DECLIV_"
	default:
		return "APP_"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
