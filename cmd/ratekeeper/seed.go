package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecgard/ratekeeper/internal/auth"
	"github.com/alecgard/ratekeeper/internal/config"
	"github.com/alecgard/ratekeeper/internal/ratingconfig"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedPassword string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the admin account and a demo pricing configuration",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "", "admin account password (default: $RATEKEEPER_ADMIN_PASSWORD or generated)")
	rootCmd.AddCommand(seedCmd)
}

// demoConfiguration prices CPU, memory and storage per hour.
var demoConfiguration = ratingconfig.Configuration{
	Metrics: map[string]ratingconfig.MetricDef{
		"usage_cpu": {
			ReportName:   "pod-cpu-usage-hourly",
			PrestoTable:  "report_metering_pod_cpu_usage_hourly",
			PrestoColumn: "pod_usage_cpu_core_seconds",
			Unit:         "core-seconds",
		},
		"usage_memory": {
			ReportName:   "pod-memory-usage-hourly",
			PrestoTable:  "report_metering_pod_memory_usage_hourly",
			PrestoColumn: "pod_usage_memory_byte_seconds",
			Unit:         "byte-seconds",
		},
		"request_pvc": {
			ReportName:   "persistentvolumeclaim-request-hourly",
			PrestoTable:  "report_metering_persistentvolumeclaim_request_hourly",
			PrestoColumn: "volume_request_storage_byte_seconds",
			Unit:         "byte-seconds",
		},
	},
	Rules: []ratingconfig.RuleGroup{
		{
			Name: "default",
			Ruleset: []ratingconfig.RuleEntry{
				{Metric: "usage_cpu", Value: 0.0075, Unit: "core-hours"},
				{Metric: "usage_memory", Value: 0.0045, Unit: "GiB-hours"},
				{Metric: "request_pvc", Value: 0.0001, Unit: "GiB-hours"},
			},
		},
	},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	password := seedPassword
	if password == "" {
		password = os.Getenv("RATEKEEPER_ADMIN_PASSWORD")
	}
	generated := false
	if password == "" {
		if password, err = randomPassword(); err != nil {
			return err
		}
		generated = true
	}

	users := auth.NewLocalBackend(pool)
	switch err := users.AddUser(ctx, cfg.Auth.AdminAccount, password, auth.GroupAdmin); {
	case errors.Is(err, auth.ErrUserExists):
		slog.Info("admin account already exists, skipping", "account", cfg.Auth.AdminAccount)
		generated = false
	case err != nil:
		return fmt.Errorf("creating admin account: %w", err)
	default:
		slog.Info("created admin account", "account", cfg.Auth.AdminAccount)
	}

	store, err := ratingconfig.NewStore(cfg.Rating.RatesDir, cfg.Rating.LockDelay, cfg.Rating.LockStaleAfter)
	if err != nil {
		return err
	}
	versions, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing configurations: %w", err)
	}
	if len(versions) > 0 {
		slog.Info("pricing configuration already exists, skipping", "versions", len(versions))
	} else {
		demo := demoConfiguration
		if err := store.Create(ctx, demo); err != nil {
			return fmt.Errorf("creating demo configuration: %w", err)
		}
		slog.Info("created demo configuration", "version", demo.Timestamp)
	}

	fmt.Printf("\n=== Ratekeeper Seeded ===\n")
	fmt.Printf("Admin:     %s\n", cfg.Auth.AdminAccount)
	if generated {
		fmt.Printf("Password:  %s\n", password)
	}
	fmt.Printf("Rates dir: %s\n", cfg.Rating.RatesDir)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -u %s:<password> http://%s/api/v1/namespaces/total_rating\n", cfg.Auth.AdminAccount, cfg.Addr())
	fmt.Printf("  curl http://%s/api/v1/ratingrules/active\n", cfg.Addr())

	return nil
}

func randomPassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return hex.EncodeToString(b), nil
}
