package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"fandry/internal/app"
	"fandry/internal/config"
	"fandry/internal/handler"
	"fandry/internal/infrastructure/cache"
	"fandry/internal/infrastructure/database"
	"fandry/internal/processor"
	"fandry/internal/repository"
	"fandry/pkg/logger"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var configPath string

func main() {
	defer logger.Sync()

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the points ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the YAML config file")

	root.AddCommand(
		newMigrateCmd(),
		newReconcileCmd(),
		newVerifyLedgerCmd(),
		newDiscrepanciesCmd(),
		newTokenCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDB connects without AutoMigrate; schema changes go through the migrate command.
func openDB(cfg *config.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database
	dbCfg.AutoMigrate = false
	return database.Open(&dbCfg, cfg.Log.SQLLog)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			return database.Migrate(db, &cfg.Database)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			return database.MigrationStatus(db, &cfg.Database)
		},
	})
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one sweep over stale and stuck checkout orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			redisClient, err := cache.InitRedis(&cfg.Redis)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			services := app.NewServices(db, redisClient, cfg, processor.NewStripeProcessor(&cfg.Stripe))
			stats, err := services.Checkout.Reconcile(cmd.Context(), batchSize)
			if stats != nil {
				if perr := printJSON(stats); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 100, "orders per group")
	return cmd
}

func newVerifyLedgerCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "verify-ledger",
		Short: "Replay a user's ledger and compare it with the stored balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}

			services := app.NewServices(db, nil, cfg, processor.NewStripeProcessor(&cfg.Stripe))
			report, err := services.Balances.VerifyLedger(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if !report.Consistent {
				return fmt.Errorf("ledger of user %d is inconsistent", userID)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	return cmd
}

func newDiscrepanciesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "discrepancies",
		Short: "List unresolved ledger discrepancies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			items, err := repository.NewDiscrepancyRepository(db).ListOpen(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := handler.NewToken(cfg.Auth.JWTSecret, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&role, "role", "", "role claim, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
