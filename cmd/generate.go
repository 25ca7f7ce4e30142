package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/pipeline"
)

var generateOpts struct {
	biome        string
	dem          string
	vegetation   string
	outputName   string
	state        string
	municipality string
}

var generateCmd = &cobra.Command{
	Use:   "generate <perimeter.kml>",
	Short: "Run the full calculation and build the SICAR upload package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		dem := generateOpts.dem
		if dem == "" {
			dem = cfg.DEM.Path
		}

		run, err := pipeline.New(*cfg, st).Execute(ctx, pipeline.Options{
			KMLPath:        args[0],
			Biome:          model.Biome(generateOpts.biome),
			DEMPath:        dem,
			VegetationPath: generateOpts.vegetation,
			OutputName:     generateOpts.outputName,
			State:          generateOpts.state,
			Municipality:   generateOpts.municipality,
		})
		if err != nil {
			return eris.Wrap(err, "generate")
		}

		printRunResult(run)
		return nil
	},
}

func printRunResult(run *model.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Run\t%s\n", run.ID)
	fmt.Fprintf(w, "Parcel\t%s\n", run.Parcel.Name)
	fmt.Fprintf(w, "Status\t%s\n", run.Status)
	if r := run.Result; r != nil {
		fmt.Fprintf(w, "Area\t%.4f ha (%.2f fiscal modules)\n", r.AreaHa, r.FiscalModules)
		fmt.Fprintf(w, "Protection zones\t%d (%.4f ha)\n", r.ZoneCount, r.ZoneAreaHa)
		fmt.Fprintf(w, "Legal reserve\t%.4f ha of %.4f ha required (%s)\n",
			r.ReserveAreaHa, r.ReserveRequired, r.ReserveCondition)
		if r.PackagePath != "" {
			fmt.Fprintf(w, "Package\t%s\n", r.PackagePath)
		}
	}
	w.Flush()
}

func init() {
	generateCmd.Flags().StringVar(&generateOpts.biome, "biome", string(model.BiomeMataAtlantica), "biome (MATA_ATLANTICA, CERRADO, AMAZONIA)")
	generateCmd.Flags().StringVar(&generateOpts.dem, "dem", "", "elevation raster (.asc) for slope zones")
	generateCmd.Flags().StringVar(&generateOpts.vegetation, "vegetation", "", "native-vegetation shapefile for reserve priority")
	generateCmd.Flags().StringVar(&generateOpts.outputName, "name", "", "output name (default: placemark name from the KML)")
	generateCmd.Flags().StringVar(&generateOpts.state, "state", "SP", "state code")
	generateCmd.Flags().StringVar(&generateOpts.municipality, "municipality", "", "municipality name")
	rootCmd.AddCommand(generateCmd)
}
