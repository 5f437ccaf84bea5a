package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	var (
		seedID       string
		seedCapacity int
		seedIn       time.Duration
		seedPrice    int64
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations, optionally seeding a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DB.Driver == "memory" {
				return fmt.Errorf("migrate needs DB_DRIVER=mysql or postgres")
			}
			db, err := database.Open(cfg.DB.Driver, cfg.DB.DSN())
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			applied, err := database.Migrate(ctx, db, cfg.DB.Driver)
			if err != nil {
				return err
			}
			for _, f := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", f)
			}
			if seedID == "" {
				return nil
			}

			dialect, err := repository.DialectFor(cfg.DB.Driver)
			if err != nil {
				return err
			}
			s := model.Schedule{
				ID:          seedID,
				RouteID:     seedID + "-route",
				BusID:       seedID + "-bus",
				Capacity:    seedCapacity,
				SeatsPerRow: model.DefaultSeatsPerRow,
				DepartureAt: time.Now().UTC().Add(seedIn),
				PriceCents:  seedPrice,
				Status:      model.ScheduleScheduled,
			}
			if err := repository.NewScheduleRepo(db, dialect).Create(ctx, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded schedule %s (%d seats, departs %s)\n",
				s.ID, s.Capacity, s.DepartureAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&seedID, "seed", "", "create a schedule with this ID after migrating")
	cmd.Flags().IntVar(&seedCapacity, "capacity", 40, "seats on the seeded schedule")
	cmd.Flags().DurationVar(&seedIn, "departs-in", 7*24*time.Hour, "departure of the seeded schedule, relative to now")
	cmd.Flags().Int64Var(&seedPrice, "price-cents", 2500, "seat price of the seeded schedule")
	return cmd
}
