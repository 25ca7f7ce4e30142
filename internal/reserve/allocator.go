// Package reserve implements the legal-reserve (RL) allocation search: it
// finds a sub-region of the parcel meeting the biome area quota, preferring
// existing native vegetation, then land contiguous to protection zones, then
// any remaining available land.
package reserve

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/geolavoura/carcalc/internal/config"
	"github.com/geolavoura/carcalc/internal/geos"
	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/projection"
)

// Allocator proposes a legal-reserve location. It holds only immutable
// configuration and is safe for concurrent use across parcels.
type Allocator struct {
	rules config.Rules
	proj  *projection.Adapter
}

// New builds an allocator with the given rule tables.
func New(rules config.Rules, proj *projection.Adapter) *Allocator {
	return &Allocator{rules: rules, proj: proj}
}

// Allocate produces exactly one allocation for the parcel. Zones and
// vegetation are optional; vegetation, when given, must be polygonal and in
// geographic coordinates. A parcel with zero required area yields an empty
// allocation flagged incomplete rather than an error.
func (a *Allocator) Allocate(parcel *model.Parcel, biome model.Biome, zones model.ZoneCollection, vegetation geom.T) (model.Allocation, error) {
	if parcel == nil || geos.IsEmpty(parcel.Metric) {
		return model.Allocation{}, eris.Wrap(geos.ErrInvalidGeometry, "reserve: parcel boundary required")
	}

	pct, known := a.rules.ReservePercent[string(biome)]
	if !known {
		pct = a.rules.DefaultReservePct
		zap.L().Warn("reserve: unrecognized biome, using default percentage",
			zap.String("biome", string(biome)), zap.Float64("pct", pct))
	}

	totalM2 := geos.Area(parcel.Metric)
	requiredM2 := totalM2 * pct
	requiredHa := requiredM2 / 10000
	zap.L().Info("reserve: requirement computed",
		zap.Float64("parcel_ha", totalM2/10000),
		zap.Float64("required_ha", requiredHa),
		zap.Float64("pct", pct*100),
	)

	if requiredM2 <= 0 {
		return a.finish(geom.NewMultiPolygon(geom.XY), requiredHa, pct)
	}

	zoneUnion, err := a.zoneUnionMetric(zones)
	if err != nil {
		return model.Allocation{}, err
	}

	available, err := a.availableArea(parcel, zoneUnion)
	if err != nil {
		return model.Allocation{}, err
	}

	selected, err := a.selectArea(available, zoneUnion, vegetation, requiredM2)
	if err != nil {
		return model.Allocation{}, err
	}

	return a.finish(selected, requiredHa, pct)
}

// zoneUnionMetric merges every protection zone into one metric-frame geometry.
func (a *Allocator) zoneUnionMetric(zones model.ZoneCollection) (*geom.MultiPolygon, error) {
	parts := make([]geom.T, 0, len(zones.Zones))
	for _, z := range zones.Zones {
		metric, err := a.proj.ToMetric(z.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "reserve: project zone %s", z.Code)
		}
		parts = append(parts, metric)
	}
	return geos.Union(parts...)
}

// availableArea is the parcel minus all protection zones. A multi-part
// remainder keeps only its largest connected part as the working region.
func (a *Allocator) availableArea(parcel *model.Parcel, zoneUnion *geom.MultiPolygon) (geom.T, error) {
	if geos.IsEmpty(zoneUnion) {
		return parcel.Metric, nil
	}
	remainder, err := geos.Difference(parcel.Metric, zoneUnion)
	if err != nil {
		return nil, eris.Wrap(err, "reserve: subtract zones")
	}
	if remainder.NumPolygons() > 1 {
		return geos.LargestPolygon(remainder), nil
	}
	return remainder, nil
}

// selectArea applies the legal priority order: native vegetation first, then
// land contiguous to the protection zones, then any available land.
func (a *Allocator) selectArea(available geom.T, zoneUnion *geom.MultiPolygon, vegetation geom.T, requiredM2 float64) (geom.T, error) {
	if vegetation != nil && !geos.IsEmpty(vegetation) {
		vegMetric, err := a.proj.ToMetric(vegetation)
		if err != nil {
			return nil, eris.Wrap(err, "reserve: project vegetation")
		}
		vegAvailable, err := geos.Intersection(vegMetric, available)
		if err != nil {
			return nil, eris.Wrap(err, "reserve: intersect vegetation")
		}
		if !geos.IsEmpty(vegAvailable) {
			vegM2 := geos.Area(vegAvailable)
			if vegM2 >= requiredM2 {
				zap.L().Info("reserve: native vegetation covers requirement")
				return extractArea(vegAvailable, requiredM2), nil
			}
			// Take all vegetation and search a complement for the deficit in
			// the available area with the vegetation removed.
			zap.L().Info("reserve: complementing vegetation with contiguous land",
				zap.Float64("vegetation_ha", vegM2/10000),
				zap.Float64("deficit_ha", (requiredM2-vegM2)/10000),
			)
			remainder, err := geos.Difference(available, vegAvailable)
			if err != nil {
				return nil, eris.Wrap(err, "reserve: remove vegetation from available")
			}
			complement, err := a.selectContiguous(remainder, zoneUnion, requiredM2-vegM2)
			if err != nil {
				return nil, err
			}
			return geos.Union(vegAvailable, complement)
		}
	}
	return a.selectContiguous(available, zoneUnion, requiredM2)
}

// selectContiguous searches for land adjacent to the protection-zone union by
// buffering it outward through the fixed step sequence, stopping at the first
// step whose intersection with the available area meets the requirement. With
// no zones, or when even the largest step falls short, it claims the whole
// region it was given.
func (a *Allocator) selectContiguous(available geom.T, zoneUnion *geom.MultiPolygon, requiredM2 float64) (geom.T, error) {
	if geos.IsEmpty(zoneUnion) {
		return extractArea(available, requiredM2), nil
	}

	for _, step := range a.rules.ContiguityStepsM {
		buffered, err := geos.BufferPolygon(zoneUnion, step)
		if err != nil {
			return nil, eris.Wrapf(err, "reserve: buffer zones by %.0fm", step)
		}
		contiguous, err := geos.Intersection(buffered, available)
		if err != nil {
			return nil, eris.Wrapf(err, "reserve: clip contiguous candidate at %.0fm", step)
		}
		if geos.Area(contiguous) >= requiredM2 {
			zap.L().Debug("reserve: contiguity search satisfied",
				zap.Float64("step_m", step))
			return extractArea(contiguous, requiredM2), nil
		}
	}

	zap.L().Warn("reserve: no buffer step reached the requirement, claiming full area")
	return available, nil
}

// extractArea would carve the exact requirement out of an oversized
// candidate. The source behavior is preserved deliberately: the whole
// candidate is returned even when it exceeds the requirement, so callers see
// an over-allocation rather than a minimal one.
func extractArea(candidate geom.T, requiredM2 float64) geom.T {
	return candidate
}

// finish reprojects the selection to geographic coordinates and attaches the
// completeness status at the 95% boundary.
func (a *Allocator) finish(selected geom.T, requiredHa, pct float64) (model.Allocation, error) {
	achievedHa := geos.Area(selected) / 10000

	var geographic *geom.MultiPolygon
	if geos.IsEmpty(selected) {
		geographic = geom.NewMultiPolygon(geom.XY)
	} else {
		g, err := a.proj.ToGeographic(selected)
		if err != nil {
			return model.Allocation{}, eris.Wrap(err, "reserve: reproject allocation")
		}
		geographic = geos.Multi(g)
	}

	condition := model.CondProposedIncomplete
	if requiredHa > 0 && achievedHa >= requiredHa*a.rules.CompletenessRatio {
		condition = model.CondProposed
	}

	zap.L().Info("reserve: allocation proposed",
		zap.Float64("achieved_ha", achievedHa),
		zap.Float64("required_ha", requiredHa),
		zap.String("condition", condition),
	)

	return model.Allocation{
		Geom:            geographic,
		Code:            "RL_001",
		Condition:       condition,
		AreaHa:          math.Round(achievedHa*10000) / 10000,
		RequiredAreaHa:  math.Round(requiredHa*10000) / 10000,
		PercentRequired: pct * 100,
	}, nil
}
