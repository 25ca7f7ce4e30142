package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geolavoura/carcalc/internal/hydro"
)

var fetchHydroCmd = &cobra.Command{
	Use:   "fetch-hydro",
	Short: "Download hydrography extracts into the local data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := hydro.NewFetcher(cfg.Hydro).Fetch(cmd.Context()); err != nil {
			return eris.Wrap(err, "fetch-hydro")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchHydroCmd)
}
