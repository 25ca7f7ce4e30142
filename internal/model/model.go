// Package model holds the domain entities shared across the CAR calculation
// pipeline. All entities are value objects produced by a single calculation
// pass; nothing here is mutated after creation.
package model

import (
	"encoding/json"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Biome identifies the ecological region of the parcel. It determines the
// legal-reserve percentage under Lei 12.651/2012.
type Biome string

const (
	BiomeMataAtlantica Biome = "MATA_ATLANTICA"
	BiomeCerrado       Biome = "CERRADO"
	BiomeAmazonia      Biome = "AMAZONIA"
)

// ZoneClass tags a protection zone with the SICAR APP type code.
type ZoneClass string

const (
	ZoneRiverMargin ZoneClass = "MARGEM_CURSO_DAGUA"
	ZoneSpring      ZoneClass = "NASCENTE"
	ZoneLake        ZoneClass = "LAGO_LAGOA"
	ZoneSlope       ZoneClass = "DECLIVIDADE_SUPERIOR_45"
)

// Condition values used on computed layers.
const (
	CondToClassify         = "A_CLASSIFICAR"
	CondProposed           = "PROPOSTA"
	CondProposedIncomplete = "PROPOSTA_INCOMPLETA"
)

// Parcel is the land property whose boundary drives the calculation. The
// boundary is held in geographic coordinates (EPSG:4326); the metric copy is
// projected once by the pipeline and cached here, never mutated independently.
type Parcel struct {
	Name          string        `json:"name"`
	State         string        `json:"state,omitempty"`
	Municipality  string        `json:"municipality,omitempty"`
	Boundary      *geom.Polygon `json:"-"`
	Metric        *geom.Polygon `json:"-"`
	AreaHa        float64       `json:"area_ha"`
	FiscalModules float64       `json:"fiscal_modules"`
}

// parcelJSON is the wire form of Parcel: the boundary travels as GeoJSON and
// the metric copy is never serialized.
type parcelJSON struct {
	Name          string          `json:"name"`
	State         string          `json:"state,omitempty"`
	Municipality  string          `json:"municipality,omitempty"`
	Boundary      json.RawMessage `json:"boundary,omitempty"`
	AreaHa        float64         `json:"area_ha"`
	FiscalModules float64         `json:"fiscal_modules"`
}

func (p Parcel) MarshalJSON() ([]byte, error) {
	out := parcelJSON{
		Name:          p.Name,
		State:         p.State,
		Municipality:  p.Municipality,
		AreaHa:        p.AreaHa,
		FiscalModules: p.FiscalModules,
	}
	if p.Boundary != nil {
		b, err := geojson.Marshal(p.Boundary)
		if err != nil {
			return nil, err
		}
		out.Boundary = b
	}
	return json.Marshal(out)
}

func (p *Parcel) UnmarshalJSON(data []byte) error {
	var in parcelJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Name = in.Name
	p.State = in.State
	p.Municipality = in.Municipality
	p.AreaHa = in.AreaHa
	p.FiscalModules = in.FiscalModules
	if len(in.Boundary) > 0 {
		var g geom.T
		if err := geojson.Unmarshal(in.Boundary, &g); err != nil {
			return err
		}
		if poly, ok := g.(*geom.Polygon); ok {
			p.Boundary = poly
		}
	}
	return nil
}

// Watercourse is a river or stream line with an optional width attribute.
// WidthM <= 0 means the width is unknown and the conservative default applies.
type Watercourse struct {
	Geom   *geom.LineString
	Name   string
	Kind   string
	WidthM float64
}

// Spring is a water source point. It always receives a fixed-radius buffer.
type Spring struct {
	Geom *geom.Point
	Kind string
}

// Lake is a natural lake or pond polygon. AreaHa <= 0 means the area is
// unknown and is computed from the geometry.
type Lake struct {
	Geom   *geom.Polygon
	Name   string
	AreaHa float64
}

// ProtectionZone is one computed APP polygon, clipped to the parcel and held
// in geographic coordinates.
type ProtectionZone struct {
	Geom        *geom.MultiPolygon `json:"-"`
	Code        string             `json:"code"`
	Class       ZoneClass          `json:"class"`
	Condition   string             `json:"condition"`
	AreaHa      float64            `json:"area_ha"`
	BufferM     float64            `json:"buffer_m"`
	RiverWidthM float64            `json:"river_width_m,omitempty"`
	LakeAreaHa  float64            `json:"lake_area_ha,omitempty"`
}

// ZoneCollection is the full APP output of one run. It is never nil: an empty
// run still yields an empty collection with the full attribute schema.
type ZoneCollection struct {
	Zones []ProtectionZone `json:"zones"`
}

// TotalAreaHa sums the clipped area of every zone.
func (c ZoneCollection) TotalAreaHa() float64 {
	var sum float64
	for _, z := range c.Zones {
		sum += z.AreaHa
	}
	return sum
}

// ByClass returns the zones carrying the given classification, in emission order.
func (c ZoneCollection) ByClass(class ZoneClass) []ProtectionZone {
	var out []ProtectionZone
	for _, z := range c.Zones {
		if z.Class == class {
			out = append(out, z)
		}
	}
	return out
}

// Allocation is the single legal-reserve proposal of a run, in geographic
// coordinates. Condition is PROPOSTA when the achieved area reaches 95% of the
// requirement, PROPOSTA_INCOMPLETA otherwise.
type Allocation struct {
	Geom            *geom.MultiPolygon `json:"-"`
	Code            string             `json:"code"`
	Condition       string             `json:"condition"`
	AreaHa          float64            `json:"area_ha"`
	RequiredAreaHa  float64            `json:"required_area_ha"`
	PercentRequired float64            `json:"percent_required"`
	Registered      bool               `json:"registered"`
	RegistryRef     string             `json:"registry_ref,omitempty"`
}

// Complete reports whether the allocation met the 95% completeness boundary.
func (a Allocation) Complete() bool {
	return a.Condition == CondProposed
}

// RunStatus tracks a calculation run through its phases.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusParsing   RunStatus = "parsing"
	RunStatusHydrology RunStatus = "hydrology"
	RunStatusZones     RunStatus = "zones"
	RunStatusReserve   RunStatus = "reserve"
	RunStatusPackaging RunStatus = "packaging"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded calculation for a parcel.
type Run struct {
	ID        string     `json:"id"`
	Parcel    Parcel     `json:"parcel"`
	Biome     Biome      `json:"biome"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult is the final outcome of a run.
type RunResult struct {
	AreaHa           float64 `json:"area_ha"`
	FiscalModules    float64 `json:"fiscal_modules"`
	ZoneCount        int     `json:"zone_count"`
	ZoneAreaHa       float64 `json:"zone_area_ha"`
	ReserveAreaHa    float64 `json:"reserve_area_ha"`
	ReserveRequired  float64 `json:"reserve_required_ha"`
	ReserveCondition string  `json:"reserve_condition"`
	PackagePath      string  `json:"package_path,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// PhaseStatus represents the state of one pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult is the recorded outcome of one pipeline phase.
type PhaseResult struct {
	Status PhaseStatus    `json:"status"`
	Error  string         `json:"error,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// RunPhase records one phase of a run.
type RunPhase struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Name      string      `json:"name"`
	Status    PhaseStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}
