package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolavoura/carcalc/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"generate", "zones", "reserve", "runs", "fetch-hydro", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "carcalc", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestGenerateCommand_Flags(t *testing.T) {
	for _, name := range []string{"biome", "dem", "vegetation", "name", "state", "municipality"} {
		require.NotNil(t, generateCmd.Flags().Lookup(name), "generate should have --%s", name)
	}
	assert.Equal(t, "MATA_ATLANTICA", generateCmd.Flags().Lookup("biome").DefValue)
	assert.Equal(t, "SP", generateCmd.Flags().Lookup("state").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsListCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "runs list should have --limit flag")
	assert.Equal(t, "50", flag.DefValue)
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Parcel:    model.Parcel{Name: "Sitio Boa Vista"},
			Biome:     model.BiomeCerrado,
			Status:    model.RunStatusComplete,
			Result:    &model.RunResult{ZoneCount: 3, ReserveAreaHa: 20.9},
			CreatedAt: now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Parcel:    model.Parcel{Name: "Fazenda Santa Rita"},
			Biome:     model.BiomeAmazonia,
			Status:    model.RunStatusZones,
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "PARCEL")
	assert.Contains(t, output, "RESERVE (HA)")
	assert.Contains(t, output, "Sitio Boa Vista")
	assert.Contains(t, output, "20.9000")
	assert.Contains(t, output, "2026-03-10 14:30")
	assert.Contains(t, output, "Fazenda Santa Rita")
	assert.Contains(t, output, "-", "runs without a result show a dash")
}
