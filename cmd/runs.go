package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geolavoura/carcalc/internal/model"
	"github.com/geolavoura/carcalc/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect calculation run history",
	Long:  "Commands for listing and viewing past calculation runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calculation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status, _ := cmd.Flags().GetString("status")
		parcel, _ := cmd.Flags().GetString("parcel")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Parcel: parcel,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		zones, err := st.ListZones(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run   *model.Run             `json:"run"`
			Zones []model.ProtectionZone `json:"zones"`
		}{run, zones})
	},
}

func formatRunsList(w io.Writer, runs []model.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPARCEL\tBIOME\tSTATUS\tZONES\tRESERVE (HA)\tCREATED")
	for _, r := range runs {
		zones, reserveHa := "-", "-"
		if r.Result != nil {
			zones = fmt.Sprintf("%d", r.Result.ZoneCount)
			reserveHa = fmt.Sprintf("%.4f", r.Result.ReserveAreaHa)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Parcel.Name, r.Biome, r.Status, zones, reserveHa,
			r.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status")
	runsListCmd.Flags().String("parcel", "", "filter by parcel name")
	runsListCmd.Flags().Int("limit", 50, "maximum rows")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
