package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geolavoura/carcalc/internal/geos"
	"github.com/geolavoura/carcalc/internal/hydro"
	"github.com/geolavoura/carcalc/internal/kml"
	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/projection"
	"github.com/geolavoura/carcalc/internal/raster"
	"github.com/geolavoura/carcalc/internal/validate"
	"github.com/geolavoura/carcalc/internal/zone"
)

var zonesDEM string

var zonesCmd = &cobra.Command{
	Use:   "zones <perimeter.kml>",
	Short: "Compute protection zones only and print them as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parcel, features, err := loadParcelAndHydro(args[0])
		if err != nil {
			return err
		}

		var dem *raster.Grid
		if zonesDEM != "" {
			dem, err = raster.ReadASC(zonesDEM)
			if err != nil {
				return eris.Wrap(err, "zones")
			}
		}

		proj := projection.New()
		zones, err := zone.New(cfg.Rules, proj).Calculate(cmd.Context(), parcel, zone.Inputs{
			Watercourses: features.Watercourses,
			Springs:      features.Springs,
			Lakes:        features.Lakes,
			DEM:          dem,
		})
		if err != nil {
			return eris.Wrap(err, "zones")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(zones)
	},
}

// loadParcelAndHydro parses and validates the perimeter, then loads the
// hydrography around it. Shared by the partial-calculation commands.
func loadParcelAndHydro(kmlPath string) (*model.Parcel, hydro.Features, error) {
	proj := projection.New()

	boundary, name, err := kml.ParseFile(kmlPath)
	if err != nil {
		return nil, hydro.Features{}, err
	}
	boundary, _, err = validate.New(cfg.Rules, proj).Validate(boundary)
	if err != nil {
		return nil, hydro.Features{}, err
	}
	metric, err := proj.MetricPolygon(boundary)
	if err != nil {
		return nil, hydro.Features{}, err
	}

	areaHa := geos.Hectares(metric)
	parcel := &model.Parcel{
		Name:          name,
		Boundary:      boundary,
		Metric:        metric,
		AreaHa:        areaHa,
		FiscalModules: areaHa / cfg.Rules.FiscalModuleHa,
	}

	features, err := hydro.NewLoader(cfg.Hydro, proj).Load(parcel)
	if err != nil {
		return nil, hydro.Features{}, err
	}
	return parcel, features, nil
}

func init() {
	zonesCmd.Flags().StringVar(&zonesDEM, "dem", "", "elevation raster (.asc) for slope zones")
	rootCmd.AddCommand(zonesCmd)
}
