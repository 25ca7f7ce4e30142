package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geolavoura/carcalc/internal/config"
	"github.com/geolavoura/carcalc/internal/store"
)

var (
	cfg       *config.Config
	rulesPath string
)

var rootCmd = &cobra.Command{
	Use:   "carcalc",
	Short: "CAR protection-zone and legal-reserve calculator",
	Long:  "Computes APP protection zones and a legal-reserve proposal for a rural parcel and packages the result for SICAR upload.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if rulesPath != "" {
			rules, err := config.LoadRules(rulesPath)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}
			cfg.Rules = rules
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// initStore opens the configured run-history backend and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		st, err = store.NewSQLite(cfg.Store.SQLitePath)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "rules override file (yaml)")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
