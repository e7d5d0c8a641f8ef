// Command clinicdb migrates and seeds the clinic database.
//
// Usage:
//
//	clinicdb migrate | seed | bootstrap | status | watch
//
// Configuration is read from the environment; see the config package.
package main

import (
	"context"
	"os"
	"time"

	"github.com/platforma-dev/clinicdb/accounting"
	"github.com/platforma-dev/clinicdb/application"
	"github.com/platforma-dev/clinicdb/auth"
	"github.com/platforma-dev/clinicdb/clinic"
	"github.com/platforma-dev/clinicdb/config"
	"github.com/platforma-dev/clinicdb/database"
	"github.com/platforma-dev/clinicdb/log"
	"github.com/platforma-dev/clinicdb/scheduler"
	"github.com/platforma-dev/clinicdb/seed"
)

const dbName = "clinic"

func main() {
	if err := run(context.Background()); err != nil {
		log.Error("clinicdb failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.SetDefault(log.New(os.Stdout, cfg.LogFormat, cfg.LogLevel, nil))

	db, err := database.New(ctx, cfg.Driver, cfg.DSN(), database.Options{
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  cfg.ConnMaxLifetime,
		StatementTimeout: cfg.StatementTimeout,
		Events: log.NewWideEventLogger(
			os.Stdout,
			log.NewDefaultSampler(10*time.Second, string(database.StepApplied), 0.1),
			cfg.LogFormat,
			nil,
		),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close database", "error", err)
		}
	}()

	app := application.New()
	app.RegisterDatabase(dbName, db)

	// Registration order is migration order: clinic steps reference auth and accounting tables.
	repositories := []struct {
		name       string
		repository any
	}{
		{"auth", auth.NewRepository(db)},
		{"accounting", accounting.NewRepository()},
		{"clinic", clinic.NewRepository()},
	}
	for _, r := range repositories {
		if err := app.RegisterRepository(dbName, r.name, r.repository); err != nil {
			return err
		}
	}

	bootstrapper := seed.New(db.Session(), auth.NewHasher(cfg.PasswordCost))
	app.OnSeedFunc(func(ctx context.Context) error {
		defaults, err := seed.BuiltinDefaults()
		if err != nil {
			return err
		}

		if err := cfg.RequireAdmin(); err != nil {
			return err
		}

		return bootstrapper.Bootstrap(ctx, defaults, seed.Admin{
			Username: cfg.AdminUsername,
			Password: cfg.AdminPassword,
			FullName: cfg.AdminFullName,
		})
	}, application.TaskConfig{Name: "reference-data", AbortOnError: true})

	app.RegisterServiceFactory("drift-watcher", func() (application.Runner, error) {
		return scheduler.New(cfg.DriftCheckCron, application.RunnerFunc(app.CheckDrift))
	})

	return app.Run(ctx)
}
