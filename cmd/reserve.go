package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"

	"github.com/geolavoura/carcalc/internal/geos"
	"github.com/geolavoura/carcalc/internal/hydro"
	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/projection"
	"github.com/geolavoura/carcalc/internal/reserve"
	"github.com/geolavoura/carcalc/internal/zone"
)

var reserveOpts struct {
	biome      string
	vegetation string
}

var reserveCmd = &cobra.Command{
	Use:   "reserve <perimeter.kml>",
	Short: "Compute the legal-reserve proposal only and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parcel, features, err := loadParcelAndHydro(args[0])
		if err != nil {
			return err
		}

		proj := projection.New()
		zones, err := zone.New(cfg.Rules, proj).Calculate(cmd.Context(), parcel, zone.Inputs{
			Watercourses: features.Watercourses,
			Springs:      features.Springs,
			Lakes:        features.Lakes,
		})
		if err != nil {
			return eris.Wrap(err, "reserve")
		}

		var vegetation geom.T
		if reserveOpts.vegetation != "" {
			polys, err := hydro.ReadPolygons(reserveOpts.vegetation)
			if err != nil {
				return eris.Wrap(err, "reserve")
			}
			if len(polys) > 0 {
				parts := make([]geom.T, len(polys))
				for i, p := range polys {
					parts[i] = p
				}
				vegetation, err = geos.Union(parts...)
				if err != nil {
					return eris.Wrap(err, "reserve")
				}
			}
		}

		alloc, err := reserve.New(cfg.Rules, proj).Allocate(
			parcel, model.Biome(reserveOpts.biome), zones, vegetation)
		if err != nil {
			return eris.Wrap(err, "reserve")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(alloc)
	},
}

func init() {
	reserveCmd.Flags().StringVar(&reserveOpts.biome, "biome", string(model.BiomeMataAtlantica), "biome (MATA_ATLANTICA, CERRADO, AMAZONIA)")
	reserveCmd.Flags().StringVar(&reserveOpts.vegetation, "vegetation", "", "native-vegetation shapefile for reserve priority")
	rootCmd.AddCommand(reserveCmd)
}
