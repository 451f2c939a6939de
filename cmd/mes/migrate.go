package main

import (
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/bootstrap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load roles, users, work centers and part routings from a YAML file",
	Long: `Load reference data from a YAML file (see configs/seed.example.yaml).

Records are matched by code and left untouched when they already exist,
so the command can be run repeatedly.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "seed YAML file")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(migrateCmd, seedCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	inj := newContainer()
	defer inj.Shutdown()

	if err := bootstrap.Migrate(inj); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migration completed", zap.String("driver", cfg.Database.Driver))
	fmt.Fprintln(cmd.OutOrStdout(), "migration completed")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := bootstrap.LoadSeedFile(seedFile)
	if err != nil {
		return err
	}

	inj := newContainer()
	defer inj.Shutdown()

	if err := bootstrap.Migrate(inj); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database(inj)
	if err != nil {
		return err
	}
	sum, err := bootstrap.Seed(cmd.Context(), db, data)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded roles=%d users=%d work_centers=%d parts=%d routings=%d\n",
		sum.Roles, sum.Users, sum.WorkCenters, sum.Parts, sum.Routings)
	return nil
}
