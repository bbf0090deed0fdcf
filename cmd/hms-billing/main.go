package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/insurance"
	"github.com/hms/hms/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-billing",
		Short: "Hospital billing engine ops CLI",
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(billCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(dbCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger().Level(level)
	}
	return logger
}

// services wires the repositories and services over one pool.
type services struct {
	pool     *pgxpool.Pool
	calc     *billing.CalcService
	payments *billing.PaymentService
	items    *billing.ItemService
	claims   *insurance.Service
}

func connect(ctx context.Context) (*config.Config, *services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)

	bills := billing.NewBillRepoPG(pool)
	items := billing.NewItemRepoPG(pool)
	payments := billing.NewPaymentRepoPG(pool)
	history := billing.NewHistoryRepoPG(pool)
	policies := insurance.NewPolicyRepoPG(pool)
	claims := insurance.NewClaimRepoPG(pool)
	tx := db.NewTxManager(pool)

	calc := billing.NewCalcService(bills, items, payments, history, tx, cfg.TaxRatePercent, logger)
	paymentSvc := billing.NewPaymentService(bills, payments, calc, tx, logger)
	itemSvc := billing.NewItemService(bills, items, calc, tx, logger)
	claimSvc := insurance.NewService(policies, claims, bills, paymentSvc, tx, logger)

	return cfg, &services{
		pool:     pool,
		calc:     calc,
		payments: paymentSvc,
		items:    itemSvc,
		claims:   claimSvc,
	}, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func billCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bill",
		Short: "Inspect and repair bills",
	}

	showCmd := &cobra.Command{
		Use:   "show <bill-id>",
		Short: "Print a bill with its items and payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid bill id: %w", err)
			}

			ctx := context.Background()
			_, svc, err := connect(ctx)
			if err != nil {
				return err
			}
			defer svc.pool.Close()

			bill, err := svc.calc.GetBill(ctx, id)
			if err != nil {
				return err
			}
			items, err := svc.calc.ListItems(ctx, id)
			if err != nil {
				return err
			}
			payments, err := svc.payments.ListPayments(ctx, id)
			if err != nil {
				return err
			}
			claims, err := svc.claims.ListClaimsByBill(ctx, id)
			if err != nil {
				return err
			}

			out := map[string]interface{}{
				"bill":     bill,
				"items":    items,
				"payments": payments,
				"claims":   claims,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.AddCommand(showCmd)

	recalcCmd := &cobra.Command{
		Use:   "recalc <bill-id>",
		Short: "Recalculate a bill's totals from its items and payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid bill id: %w", err)
			}

			ctx := context.Background()
			_, svc, err := connect(ctx)
			if err != nil {
				return err
			}
			defer svc.pool.Close()

			bill, err := svc.calc.CalculateTotals(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("Bill %s recalculated: total %.2f %s, paid %.2f, balance %.2f (%s)\n",
				bill.BillNumber, bill.TotalAmount, bill.Currency, bill.AmountPaid, bill.BalanceDue, bill.PaymentStatus)
			return nil
		},
	}
	cmd.AddCommand(recalcCmd)

	return cmd
}

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print connection pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, svc, err := connect(ctx)
			if err != nil {
				return err
			}
			defer svc.pool.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(db.Stats(ctx, svc.pool))
		},
	}
	cmd.AddCommand(statsCmd)

	return cmd
}

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Inspect insurance claims",
	}

	showCmd := &cobra.Command{
		Use:   "show <claim-id>",
		Short: "Print a claim with its coverage breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid claim id: %w", err)
			}

			ctx := context.Background()
			_, svc, err := connect(ctx)
			if err != nil {
				return err
			}
			defer svc.pool.Close()

			claim, err := svc.claims.GetClaim(ctx, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(claim)
		},
	}
	cmd.AddCommand(showCmd)

	return cmd
}
