package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/marketfit/paygate/internal/pkg/database"
	"github.com/marketfit/paygate/internal/pkg/env"
	"github.com/marketfit/paygate/internal/pkg/payments"
)

// Reconciles local subscription state against the provider. Meant to run
// from cron as a safety net for dropped webhooks.
func main() {
	appID := flag.String("app-id", "", "restrict the sync to one app")
	dryRun := flag.Bool("dry-run", false, "log differences without writing")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run deadline")
	flag.Parse()

	env.SetupEnvFile()
	database.SetupDatabase()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc := payments.NewServiceFromEnv(database.GetDB())
	report, err := svc.SyncAll(ctx, *appID, *dryRun)
	if err != nil {
		log.Fatalf("sync run failed: %v", err)
	}
	log.Printf("sync finished: checked=%d updated=%d failed=%d", report.Checked, report.Updated, report.Failed)
}
