// Package application wires databases, seed tasks and background services into
// the clinicdb commands.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/platforma-dev/clinicdb/database"
	"github.com/platforma-dev/clinicdb/log"
)

var (
	// ErrUnknownCommand is returned when an unknown CLI command is provided.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnknownDatabase is returned when a repository targets a database that was not registered.
	ErrUnknownDatabase = errors.New("unknown database")
	// ErrSchemaDrift is returned by CheckDrift when a database has steps left to apply.
	ErrSchemaDrift = errors.New("schema drift detected")
)

// ErrDatabaseMigrationFailed is an error type that represents a failed database migration.
type ErrDatabaseMigrationFailed struct {
	database string
	err      error
}

// Error returns the formatted error message for ErrDatabaseMigrationFailed.
func (e *ErrDatabaseMigrationFailed) Error() string {
	return fmt.Sprintf("failed to migrate database %s: %v", e.database, e.err)
}

// Unwrap returns the underlying error for ErrDatabaseMigrationFailed.
func (e *ErrDatabaseMigrationFailed) Unwrap() error {
	return e.err
}

// ErrSeedFailed is returned when one or more seed tasks fail.
type ErrSeedFailed struct {
	err error
}

// Error returns the formatted error message for ErrSeedFailed.
func (e *ErrSeedFailed) Error() string {
	return fmt.Sprintf("failed to seed database: %v", e.err)
}

// Unwrap returns the underlying error for ErrSeedFailed.
func (e *ErrSeedFailed) Unwrap() error {
	return e.err
}

// Application manages databases, seed tasks and services for the clinicdb commands.
type Application struct {
	seedTasks      []task
	services       map[string]Runner
	factories      []serviceFactory
	healthcheckers map[string]Healthchecker
	databases      map[string]*database.Database
	health         *Health
	out            io.Writer
}

// New creates and returns a new Application instance writing reports to stdout.
func New() *Application {
	return &Application{
		services:       make(map[string]Runner),
		healthcheckers: make(map[string]Healthchecker),
		databases:      make(map[string]*database.Database),
		health:         NewHealth(),
		out:            os.Stdout,
	}
}

// SetOutput redirects usage and status reports.
func (a *Application) SetOutput(w io.Writer) {
	a.out = w
}

// Health returns the current health status of the application.
func (a *Application) Health(ctx context.Context) *Health {
	for hcName, hc := range a.healthcheckers {
		a.health.SetServiceData(hcName, hc.Healthcheck(ctx))
	}
	return a.health
}

// OnSeed registers a task that runs after migrations commit.
func (a *Application) OnSeed(task Runner, config TaskConfig) {
	a.seedTasks = append(a.seedTasks, newTask(task, config))
}

// OnSeedFunc registers a seed task function.
func (a *Application) OnSeedFunc(task RunnerFunc, config TaskConfig) {
	a.seedTasks = append(a.seedTasks, newTask(task, config))
}

func newTask(runner Runner, config TaskConfig) task {
	return task{runner: runner, config: config}
}

// RegisterDatabase adds a database to the application.
func (a *Application) RegisterDatabase(dbName string, db *database.Database) {
	a.databases[dbName] = db
}

// RegisterRepository adds a repository to a registered database.
// Its name namespaces the repository's steps in the migration ledger.
func (a *Application) RegisterRepository(dbName string, repoName string, repository any) error {
	db, ok := a.databases[dbName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDatabase, dbName)
	}
	db.RegisterRepository(repoName, repository)
	return nil
}

// ServiceFactory builds a service when the watch command starts.
type ServiceFactory func() (Runner, error)

type serviceFactory struct {
	name  string
	build ServiceFactory
}

// RegisterServiceFactory adds a named service that is only built by the watch command,
// so a misconfigured service never fails the other commands.
func (a *Application) RegisterServiceFactory(serviceName string, build ServiceFactory) {
	a.factories = append(a.factories, serviceFactory{name: serviceName, build: build})
}

func (a *Application) buildServices() error {
	for _, f := range a.factories {
		service, err := f.build()
		if err != nil {
			return fmt.Errorf("failed to build service %s: %w", f.name, err)
		}
		a.RegisterService(f.name, service)
	}
	a.factories = nil
	return nil
}

// RegisterService adds a named service to the application. Services run under the watch command.
func (a *Application) RegisterService(serviceName string, service Runner) {
	a.services[serviceName] = service
	a.health.AddService(serviceName)

	healthcheckerService, ok := service.(Healthchecker)
	if ok {
		a.healthcheckers[serviceName] = healthcheckerService
	}
}

func (a *Application) printUsage() {
	fmt.Fprintln(a.out, "Usage: clinicdb <command>")
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Commands:")
	fmt.Fprintln(a.out, "  migrate     Apply pending schema steps in one transaction per database")
	fmt.Fprintln(a.out, "  seed        Ensure reference data and the admin account exist")
	fmt.Fprintln(a.out, "  bootstrap   Run migrate, then seed")
	fmt.Fprintln(a.out, "  status      Print the state of every schema step as JSON")
	fmt.Fprintln(a.out, "  watch       Check for schema drift on a schedule until interrupted")
}

func (a *Application) databaseNames() []string {
	names := make([]string, 0, len(a.databases))
	for name := range a.databases {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (a *Application) migrate(ctx context.Context) error {
	if len(a.databases) == 0 {
		log.WarnContext(ctx, "no databases registered")
		return nil
	}

	for _, dbName := range a.databaseNames() {
		dbCtx := context.WithValue(ctx, log.DatabaseKey, dbName)

		log.InfoContext(dbCtx, "migrating database")
		run, err := a.databases[dbName].Migrate(dbCtx)
		if err != nil {
			log.ErrorContext(dbCtx, "error in database migration", "error", err)
			return &ErrDatabaseMigrationFailed{database: dbName, err: err}
		}

		log.InfoContext(dbCtx, "database migrated",
			"runId", run.ID,
			"applied", len(run.Outcomes(database.StepApplied)),
			"skipped", len(run.Outcomes(database.StepSkipped)),
		)
	}

	return nil
}

func (a *Application) seed(ctx context.Context) error {
	log.InfoContext(ctx, "seeding", "tasks", len(a.seedTasks))

	var errs []error
	for i, task := range a.seedTasks {
		taskCtx := context.WithValue(ctx, log.TaskKey, task.config.Name)
		log.InfoContext(taskCtx, "running task", "index", i)

		err := task.runner.Run(taskCtx)
		if err != nil {
			log.ErrorContext(taskCtx, "error in seed task", "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", task.config.Name, err))

			if task.config.AbortOnError {
				break
			}
		}
	}

	if len(errs) > 0 {
		return &ErrSeedFailed{err: errors.Join(errs...)}
	}
	return nil
}

// DatabaseStatus is the status report of one database.
type DatabaseStatus struct {
	Pending int                   `json:"pending"`
	Steps   []database.StepStatus `json:"steps"`
}

// Status reports the state of every registered step, per database.
func (a *Application) Status(ctx context.Context) (map[string]DatabaseStatus, error) {
	report := make(map[string]DatabaseStatus, len(a.databases))
	for _, dbName := range a.databaseNames() {
		statuses, err := a.databases[dbName].Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read status of %s: %w", dbName, err)
		}
		report[dbName] = DatabaseStatus{Pending: database.Pending(statuses), Steps: statuses}
	}
	return report, nil
}

func (a *Application) status(ctx context.Context) error {
	report, err := a.Status(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return nil
}

// CheckDrift logs steps that have not been applied and returns ErrSchemaDrift
// when any database has pending steps. Steps whose effect is present but not
// recorded in the ledger are reported as detected and do not count as drift.
func (a *Application) CheckDrift(ctx context.Context) error {
	report, err := a.Status(ctx)
	if err != nil {
		return err
	}

	var drifted []string
	for _, dbName := range a.databaseNames() {
		dbCtx := context.WithValue(ctx, log.DatabaseKey, dbName)
		for _, step := range report[dbName].Steps {
			switch step.State {
			case database.StatePending:
				log.WarnContext(dbCtx, "schema step pending", "repository", step.Repository, "stepId", step.StepID, "description", step.Description)
			case database.StateDetected:
				log.InfoContext(dbCtx, "schema step detected without ledger entry", "repository", step.Repository, "stepId", step.StepID)
			}
		}
		if report[dbName].Pending > 0 {
			drifted = append(drifted, dbName)
		}
	}

	if len(drifted) > 0 {
		return fmt.Errorf("%w in %v", ErrSchemaDrift, drifted)
	}
	return nil
}

func (a *Application) watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.buildServices(); err != nil {
		return err
	}

	if len(a.services) == 0 {
		log.WarnContext(ctx, "no services registered")
		return nil
	}

	log.InfoContext(ctx, "starting services", "services", len(a.services))

	var wg sync.WaitGroup

	for serviceName, service := range a.services {
		wg.Add(1)

		serviceCtx := context.WithValue(ctx, log.ServiceNameKey, serviceName)

		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.health.FailService(serviceName, fmt.Errorf("panic: %v", r))
					log.ErrorContext(serviceCtx, "service panicked", "panic", r)
				}
			}()

			log.InfoContext(serviceCtx, "starting service")
			a.health.StartService(serviceName)

			err := service.Run(serviceCtx)
			if err != nil && ctx.Err() == nil {
				a.health.FailService(serviceName, err)
				log.ErrorContext(serviceCtx, "error in service", "error", err)
				return
			}
			a.health.StopService(serviceName)
		}()
	}

	a.health.StartApplication()

	wg.Wait()

	log.InfoContext(context.WithoutCancel(ctx), "services stopped", "health", a.Health(ctx).String())

	return nil
}

// RunCommand executes a single command.
// Supported commands: migrate, seed, bootstrap (migrate then seed), status, watch.
func (a *Application) RunCommand(ctx context.Context, command string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	ctx = context.WithValue(ctx, log.CommandKey, command)

	var err error
	switch command {
	case "migrate":
		err = a.migrate(ctx)
	case "seed":
		err = a.seed(ctx)
	case "bootstrap":
		err = a.migrate(ctx)
		if err == nil {
			err = a.seed(ctx)
		}
	case "status":
		err = a.status(ctx)
	case "watch":
		err = a.watch(ctx)
	case "--help", "-h", "help":
		a.printUsage()
		return nil
	default:
		a.printUsage()
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	if err != nil {
		return err
	}

	log.InfoContext(ctx, "command finished", "took", time.Since(started))
	return nil
}

// Run parses CLI arguments and executes the appropriate command.
// Returns nil on success, ErrUnknownCommand for unknown commands.
func (a *Application) Run(ctx context.Context) error {
	args := os.Args
	if len(args) < 2 {
		a.printUsage()
		return nil
	}

	return a.RunCommand(ctx, args[1])
}
