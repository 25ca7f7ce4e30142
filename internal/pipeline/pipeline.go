// Package pipeline orchestrates one full calculation: parse, validate,
// hydrography, zones, reserve and packaging, with every phase recorded in the
// store.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/geolavoura/carcalc/internal/config"
	"github.com/geolavoura/carcalc/internal/geos"
	"github.com/geolavoura/carcalc/internal/hydro"
	"github.com/geolavoura/carcalc/internal/kml"
	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/projection"
	"github.com/geolavoura/carcalc/internal/raster"
	"github.com/geolavoura/carcalc/internal/reserve"
	"github.com/geolavoura/carcalc/internal/sicar"
	"github.com/geolavoura/carcalc/internal/store"
	"github.com/geolavoura/carcalc/internal/validate"
	"github.com/geolavoura/carcalc/internal/zone"
)

// Options selects the inputs of one run. KMLPath and Biome are required;
// everything else is optional.
type Options struct {
	KMLPath        string
	Biome          model.Biome
	DEMPath        string
	VegetationPath string
	OutputName     string
	State          string
	Municipality   string
}

// Pipeline wires the calculation stages together.
type Pipeline struct {
	cfg       config.Config
	store     store.Store
	proj      *projection.Adapter
	validator *validate.Validator
	loader    *hydro.Loader
	engine    *zone.Engine
	allocator *reserve.Allocator
}

// New builds a pipeline over the given store.
func New(cfg config.Config, st store.Store) *Pipeline {
	proj := projection.New()
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		proj:      proj,
		validator: validate.New(cfg.Rules, proj),
		loader:    hydro.NewLoader(cfg.Hydro, proj),
		engine:    zone.New(cfg.Rules, proj),
		allocator: reserve.New(cfg.Rules, proj),
	}
}

// Execute runs the full calculation and returns the completed run record.
// The run is created in the store as soon as the parcel parses; any later
// failure marks it failed with the error in the result.
func (p *Pipeline) Execute(ctx context.Context, opts Options) (*model.Run, error) {
	parcel, err := p.parse(opts)
	if err != nil {
		return nil, err
	}

	run, err := p.store.CreateRun(ctx, *parcel, opts.Biome)
	if err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: run created",
		zap.String("run_id", run.ID),
		zap.String("parcel", parcel.Name),
		zap.String("biome", string(opts.Biome)),
	)

	result, err := p.execute(ctx, run.ID, parcel, opts)
	if err != nil {
		fail := &model.RunResult{Error: err.Error()}
		if storeErr := p.store.UpdateRunResult(ctx, run.ID, fail); storeErr != nil {
			zap.L().Error("pipeline: record failure", zap.Error(storeErr))
		}
		return nil, err
	}

	if err := p.store.UpdateRunResult(ctx, run.ID, result); err != nil {
		return nil, err
	}
	return p.store.GetRun(ctx, run.ID)
}

// ExecuteBoundary runs the full calculation for an already-decoded boundary
// polygon, as submitted through the HTTP API.
func (p *Pipeline) ExecuteBoundary(ctx context.Context, boundary *geom.Polygon, opts Options) (*model.Run, error) {
	parcel, err := p.buildParcel(boundary, opts.OutputName, opts)
	if err != nil {
		return nil, err
	}

	run, err := p.store.CreateRun(ctx, *parcel, opts.Biome)
	if err != nil {
		return nil, err
	}

	result, err := p.execute(ctx, run.ID, parcel, opts)
	if err != nil {
		fail := &model.RunResult{Error: err.Error()}
		if storeErr := p.store.UpdateRunResult(ctx, run.ID, fail); storeErr != nil {
			zap.L().Error("pipeline: record failure", zap.Error(storeErr))
		}
		return nil, err
	}

	if err := p.store.UpdateRunResult(ctx, run.ID, result); err != nil {
		return nil, err
	}
	return p.store.GetRun(ctx, run.ID)
}

func (p *Pipeline) parse(opts Options) (*model.Parcel, error) {
	boundary, name, err := kml.ParseFile(opts.KMLPath)
	if err != nil {
		return nil, err
	}
	if opts.OutputName != "" {
		name = opts.OutputName
	}
	return p.buildParcel(boundary, name, opts)
}

func (p *Pipeline) buildParcel(boundary *geom.Polygon, name string, opts Options) (*model.Parcel, error) {
	if name == "" {
		name = "imovel"
	}

	boundary, warnings, err := p.validator.Validate(boundary)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		zap.L().Warn("pipeline: boundary corrected", zap.String("detail", w))
	}

	metric, err := p.proj.MetricPolygon(boundary)
	if err != nil {
		return nil, err
	}

	areaHa := geos.Hectares(metric)
	return &model.Parcel{
		Name:          name,
		State:         opts.State,
		Municipality:  opts.Municipality,
		Boundary:      boundary,
		Metric:        metric,
		AreaHa:        areaHa,
		FiscalModules: areaHa / p.cfg.Rules.FiscalModuleHa,
	}, nil
}

func (p *Pipeline) execute(ctx context.Context, runID string, parcel *model.Parcel, opts Options) (*model.RunResult, error) {
	features, err := p.phaseHydro(ctx, runID, parcel)
	if err != nil {
		return nil, err
	}

	zones, err := p.phaseZones(ctx, runID, parcel, features, opts.DEMPath)
	if err != nil {
		return nil, err
	}

	alloc, err := p.phaseReserve(ctx, runID, parcel, opts, zones)
	if err != nil {
		return nil, err
	}

	pkgPath, err := p.phasePackage(ctx, runID, parcel, zones, alloc, features)
	if err != nil {
		return nil, err
	}

	return &model.RunResult{
		AreaHa:           parcel.AreaHa,
		FiscalModules:    parcel.FiscalModules,
		ZoneCount:        len(zones.Zones),
		ZoneAreaHa:       zones.TotalAreaHa(),
		ReserveAreaHa:    alloc.AreaHa,
		ReserveRequired:  alloc.RequiredAreaHa,
		ReserveCondition: alloc.Condition,
		PackagePath:      pkgPath,
	}, nil
}

// phaseHydro loads hydrography. Loader errors are non-fatal: the calculation
// can proceed without rivers, it just produces no water-related zones.
func (p *Pipeline) phaseHydro(ctx context.Context, runID string, parcel *model.Parcel) (hydro.Features, error) {
	phase, err := p.startPhase(ctx, runID, "hydrology", model.RunStatusHydrology)
	if err != nil {
		return hydro.Features{}, err
	}

	features, loadErr := p.loader.Load(parcel)
	if loadErr != nil {
		zap.L().Warn("pipeline: hydrography unavailable, continuing without water features",
			zap.Error(loadErr))
		p.endPhase(ctx, phase, &model.PhaseResult{
			Status: model.PhaseStatusSkipped,
			Error:  loadErr.Error(),
		})
		return hydro.Features{}, nil
	}

	p.endPhase(ctx, phase, &model.PhaseResult{
		Status: model.PhaseStatusComplete,
		Detail: map[string]any{
			"watercourses": len(features.Watercourses),
			"lakes":        len(features.Lakes),
			"springs":      len(features.Springs),
		},
	})
	return features, nil
}

func (p *Pipeline) phaseZones(ctx context.Context, runID string, parcel *model.Parcel, features hydro.Features, demPath string) (model.ZoneCollection, error) {
	phase, err := p.startPhase(ctx, runID, "zones", model.RunStatusZones)
	if err != nil {
		return model.ZoneCollection{}, err
	}

	var dem *raster.Grid
	if demPath != "" {
		dem, err = raster.ReadASC(demPath)
		if err != nil {
			zap.L().Error("pipeline: elevation raster unreadable, skipping slope zones",
				zap.String("path", demPath), zap.Error(err))
			dem = nil
		}
	}

	zones, err := p.engine.Calculate(ctx, parcel, zone.Inputs{
		Watercourses: features.Watercourses,
		Springs:      features.Springs,
		Lakes:        features.Lakes,
		DEM:          dem,
	})
	if err != nil {
		p.endPhase(ctx, phase, &model.PhaseResult{Status: model.PhaseStatusFailed, Error: err.Error()})
		return model.ZoneCollection{}, err
	}

	if err := p.store.SaveZones(ctx, runID, zones); err != nil {
		zap.L().Error("pipeline: persist zones", zap.Error(err))
	}

	p.endPhase(ctx, phase, &model.PhaseResult{
		Status: model.PhaseStatusComplete,
		Detail: map[string]any{"zones": len(zones.Zones), "area_ha": zones.TotalAreaHa()},
	})
	return zones, nil
}

func (p *Pipeline) phaseReserve(ctx context.Context, runID string, parcel *model.Parcel, opts Options, zones model.ZoneCollection) (model.Allocation, error) {
	phase, err := p.startPhase(ctx, runID, "reserve", model.RunStatusReserve)
	if err != nil {
		return model.Allocation{}, err
	}

	vegetation, err := p.loadVegetation(opts.VegetationPath)
	if err != nil {
		zap.L().Warn("pipeline: vegetation layer unreadable, allocating without it",
			zap.Error(err))
		vegetation = nil
	}

	alloc, err := p.allocator.Allocate(parcel, opts.Biome, zones, vegetation)
	if err != nil {
		p.endPhase(ctx, phase, &model.PhaseResult{Status: model.PhaseStatusFailed, Error: err.Error()})
		return model.Allocation{}, err
	}

	p.endPhase(ctx, phase, &model.PhaseResult{
		Status: model.PhaseStatusComplete,
		Detail: map[string]any{"area_ha": alloc.AreaHa, "condition": alloc.Condition},
	})
	return alloc, nil
}

func (p *Pipeline) phasePackage(ctx context.Context, runID string, parcel *model.Parcel, zones model.ZoneCollection, alloc model.Allocation, features hydro.Features) (string, error) {
	phase, err := p.startPhase(ctx, runID, "package", model.RunStatusPackaging)
	if err != nil {
		return "", err
	}

	pkgPath, err := p.buildPackage(parcel, zones, alloc, features)
	if err != nil {
		p.endPhase(ctx, phase, &model.PhaseResult{Status: model.PhaseStatusFailed, Error: err.Error()})
		return "", err
	}

	p.endPhase(ctx, phase, &model.PhaseResult{
		Status: model.PhaseStatusComplete,
		Detail: map[string]any{"path": pkgPath},
	})
	return pkgPath, nil
}

func (p *Pipeline) buildPackage(parcel *model.Parcel, zones model.ZoneCollection, alloc model.Allocation, features hydro.Features) (string, error) {
	builder, err := sicar.NewBuilder(p.cfg.Output.Dir, parcel.Name)
	if err != nil {
		return "", err
	}
	if err := builder.AddParcel(parcel); err != nil {
		return "", err
	}
	if err := builder.AddZones(zones); err != nil {
		return "", err
	}
	if err := builder.AddReserve(alloc); err != nil {
		return "", err
	}
	if err := builder.AddHydrography(features.Watercourses); err != nil {
		return "", err
	}
	pkgPath, err := builder.BuildZip()
	if err != nil {
		return "", err
	}
	if _, err := builder.WriteSummary(parcel, zones, alloc, p.cfg.Rules.FiscalModuleHa); err != nil {
		return "", err
	}
	return pkgPath, nil
}

func (p *Pipeline) loadVegetation(path string) (geom.T, error) {
	if path == "" {
		return nil, nil
	}
	polys, err := hydro.ReadPolygons(path)
	if err != nil {
		return nil, err
	}
	if len(polys) == 0 {
		return nil, nil
	}
	parts := make([]geom.T, len(polys))
	for i, poly := range polys {
		parts[i] = poly
	}
	return geos.Union(parts...)
}

func (p *Pipeline) startPhase(ctx context.Context, runID, name string, status model.RunStatus) (*model.RunPhase, error) {
	if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
		return nil, eris.Wrapf(err, "pipeline: enter phase %s", name)
	}
	phase, err := p.store.CreatePhase(ctx, runID, name)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: record phase %s", name)
	}
	return phase, nil
}

func (p *Pipeline) endPhase(ctx context.Context, phase *model.RunPhase, result *model.PhaseResult) {
	if err := p.store.CompletePhase(ctx, phase.ID, result); err != nil {
		zap.L().Error("pipeline: complete phase",
			zap.String("phase", phase.Name), zap.Error(err))
	}
}
