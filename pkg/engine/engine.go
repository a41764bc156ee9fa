package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marketprism/storage-engine/pkg/admin"
	"github.com/marketprism/storage-engine/pkg/cleanup"
	"github.com/marketprism/storage-engine/pkg/config"
	"github.com/marketprism/storage-engine/pkg/events"
	"github.com/marketprism/storage-engine/pkg/log"
	"github.com/marketprism/storage-engine/pkg/migration"
	"github.com/marketprism/storage-engine/pkg/pool"
	"github.com/marketprism/storage-engine/pkg/queue"
	"github.com/marketprism/storage-engine/pkg/scheduler"
	"github.com/marketprism/storage-engine/pkg/schema"
	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/subscriber"
	"github.com/marketprism/storage-engine/pkg/types"
	"github.com/marketprism/storage-engine/pkg/writer"
)

const (
	migrationTaskName = "migration"
	cleanupTaskName   = "cleanup"
)

// Engine owns every storage-engine subsystem for one process: the hot and
// cold DBMS endpoints, the pool sitting in front of the hot tier, the batch
// queue manager and tier writer that drain it, the bus subscriber feeding
// the queue, the migration and cleanup engines the scheduler drives, the
// event broker they raise alerts on, and the Admin Facade's HTTP server.
type Engine struct {
	cfg config.Config

	hot  *store.Client
	cold *store.Client
	pool *pool.Pool

	queue      *queue.Manager
	writer     *writer.Writer
	subscriber *subscriber.Subscriber

	migration *migration.Engine
	cleanup   *cleanup.Engine
	scheduler *scheduler.Scheduler

	events     *events.Broker
	alertSub   events.Subscriber
	alertsDone chan struct{}
	admin      *admin.Server
	http       *http.Server
}

// logAlerts is the engine's own operator-alert sink (spec.md §8: "only fatal
// and verification-class errors surface to ... operator alerts"). It runs
// for the engine's lifetime, logging every event the broker distributes;
// a real deployment would point this at paging/notification infrastructure
// instead, but the subscription contract is the same either way.
func (e *Engine) logAlerts() {
	defer close(e.alertsDone)
	logger := log.WithComponent("alerts")
	for event := range e.alertSub {
		logger.Warn().Str("type", string(event.Type)).Time("at", event.Timestamp).Msg(event.Message)
	}
}

// New builds and wires every subsystem, then creates the hot and cold
// databases and tables if they don't already exist. It connects to the bus
// but does not yet bind consumers, start the queue, scheduler or event
// loops, or open the admin listener; call Start for that.
func New(cfg config.Config) (*Engine, error) {
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSONOutput})
	logger := log.WithComponent("engine")

	hot, err := store.Open(store.Config{
		Addr: cfg.HotStore.Addr, Database: cfg.HotStore.Database,
		Username: cfg.HotStore.Username, Password: cfg.HotStore.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("open hot store: %w", err)
	}

	cold, err := store.Open(store.Config{
		Addr: cfg.ColdStore.Addr, Database: cfg.ColdStore.Database,
		Username: cfg.ColdStore.Username, Password: cfg.ColdStore.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("open cold store: %w", err)
	}

	if _, err := schema.New(hot, cfg.HotStore.Database, types.TierHot).EnsureAll(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure hot schema: %w", err)
	}
	if _, err := schema.New(cold, cfg.ColdStore.Database, types.TierCold).EnsureAll(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure cold schema: %w", err)
	}

	connPool, err := pool.New(pool.Config{MaxSize: cfg.Pool.MaxHandles, AcquireWait: cfg.Pool.AcquireWait}, func() (pool.Handle, error) {
		return store.Open(store.Config{
			Addr: cfg.HotStore.Addr, Database: cfg.HotStore.Database,
			Username: cfg.HotStore.Username, Password: cfg.HotStore.Password,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("start hot connection pool: %w", err)
	}

	tableNamer := func(dt types.DataType) string {
		return fmt.Sprintf("%s.%s", cfg.HotStore.Database, types.TableName(types.TierHot, dt))
	}
	// Every insert goes through JSONEachRow (see pkg/writer), which derives
	// column names from each row's own keys, so no fixed column order is
	// needed here.
	columnNamer := func(types.DataType) []string { return nil }

	w := writer.New(writer.Config{}, connPool, tableNamer, columnNamer)
	qm := queue.New(w, mergePolicies(cfg.Queue.Overrides))

	sub, err := subscriber.New(subscriber.Config{
		URLs: cfg.Bus.URLs, StreamName: cfg.Bus.StreamName, DurablePrefix: cfg.Bus.DurableName,
		AckWait: cfg.Bus.AckWait, MaxInFlight: cfg.Bus.MaxInFlight,
	}, qm)
	if err != nil {
		return nil, fmt.Errorf("connect bus subscriber: %w", err)
	}

	hotCatalog := store.NewCatalog(hot)

	migrationEngine := migration.New(
		migration.Config{ParallelWorkers: cfg.Migration.MaxParallel, SizeThresholdMB: cfg.Migration.SizeThresholdMB},
		hotCatalog, hot, cold, cfg.ColdStore.Database, hotTableNames(cfg.HotStore.Database),
	)

	cleanupEngine := cleanup.New(
		cleanup.Config{Tables: cleanupTables(cfg), DryRun: cfg.Cleanup.DryRun, SmartCleanup: cfg.Cleanup.SmartCleanup, DiskThreshold: cfg.Cleanup.DiskThreshold},
		hotCatalog, hot, hotCatalog,
	)

	sched := scheduler.New()
	if err := sched.Register(context.Background(), scheduler.Task{
		Name: migrationTaskName, Cron: cfg.Migration.Schedule,
		Run: func(ctx context.Context) error { _, err := migrationEngine.RunCycle(ctx); return err },
	}); err != nil {
		return nil, fmt.Errorf("register migration schedule: %w", err)
	}
	if err := sched.Register(context.Background(), scheduler.Task{
		Name: cleanupTaskName, Cron: cfg.Cleanup.Schedule,
		Run: func(ctx context.Context) error { _, err := cleanupEngine.RunCycle(ctx); return err },
	}); err != nil {
		return nil, fmt.Errorf("register cleanup schedule: %w", err)
	}

	broker := events.NewBroker()
	connPool.SetPublisher(broker)
	w.SetPublisher(broker)
	sub.SetPublisher(broker)
	migrationEngine.SetPublisher(broker)
	cleanupEngine.SetPublisher(broker)

	adminSrv := admin.New(admin.Deps{
		Config: cfg, Migrator: migrationEngine, Cleaner: cleanupEngine,
		WriterStats: w, Queue: qm, Pool: connPool, Bus: sub, Scheduler: sched,
	})

	logger.Info().Str("hot_store", cfg.HotStore.Addr).Str("cold_store", cfg.ColdStore.Addr).Msg("engine wired")

	return &Engine{
		cfg: cfg, hot: hot, cold: cold, pool: connPool,
		queue: qm, writer: w, subscriber: sub,
		migration: migrationEngine, cleanup: cleanupEngine, scheduler: sched,
		events: broker, alertsDone: make(chan struct{}), admin: adminSrv,
		http: &http.Server{Addr: cfg.Admin.ListenAddr, Handler: adminSrv.Router()},
	}, nil
}

// Admin exposes the wired Admin Facade, e.g. for a caller that wants to
// embed its router in a larger mux instead of using Engine's own listener.
func (e *Engine) Admin() *admin.Server { return e.admin }

// Events exposes the engine-alert broker for external subscribers.
func (e *Engine) Events() *events.Broker { return e.events }

// Start begins consuming the bus, running the scheduled migration/cleanup
// tasks, and serving the Admin Facade. It returns once every subsystem has
// started; the Admin Facade's HTTP listener runs in its own goroutine and
// any fatal serve error is logged, not returned, since Start is meant to be
// called once during process bootstrap.
func (e *Engine) Start(ctx context.Context) error {
	e.events.Start()
	e.alertSub = e.events.Subscribe()
	go e.logAlerts()
	e.queue.Start()

	if err := e.subscriber.Start(ctx); err != nil {
		return fmt.Errorf("start bus subscriber: %w", err)
	}

	e.scheduler.Start()

	go func() {
		logger := log.WithComponent("admin")
		logger.Info().Str("addr", e.cfg.Admin.ListenAddr).Msg("admin facade listening")
		if err := e.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin facade stopped unexpectedly")
		}
	}()

	return nil
}

// Stop drains and shuts down every subsystem in reverse start order, giving
// each a bounded grace period.
func (e *Engine) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.http.Shutdown(shutdownCtx); err != nil {
		log.WithComponent("admin").Warn().Err(err).Msg("admin facade shutdown did not complete cleanly")
	}

	e.scheduler.Stop()
	e.subscriber.Stop()
	e.queue.Stop(shutdownCtx)

	e.events.Unsubscribe(e.alertSub)
	<-e.alertsDone
	e.events.Stop()

	if err := e.pool.Close(); err != nil {
		log.WithComponent("engine").Warn().Err(err).Msg("pool close did not complete cleanly")
	}
	if err := e.hot.Close(); err != nil {
		log.WithComponent("engine").Warn().Err(err).Msg("hot store close failed")
	}
	if err := e.cold.Close(); err != nil {
		log.WithComponent("engine").Warn().Err(err).Msg("cold store close failed")
	}
	return nil
}

// mergePolicies overlays per-type overrides on top of the compiled-in batch
// policy defaults, so a config file only needs to name the types it wants
// to change.
func mergePolicies(overrides map[types.DataType]types.BatchPolicy) map[types.DataType]types.BatchPolicy {
	merged := make(map[types.DataType]types.BatchPolicy, len(types.Policies))
	for dt, p := range types.Policies {
		merged[dt] = p
	}
	for dt, p := range overrides {
		merged[dt] = p
	}
	return merged
}

func hotTableNames(database string) []string {
	tables := make([]string, 0, len(types.AllDataTypes))
	for _, dt := range types.AllDataTypes {
		tables = append(tables, fmt.Sprintf("%s.%s", database, types.TableName(types.TierHot, dt)))
	}
	return tables
}

// cleanupTables builds one TableConfig per data type that has a configured
// retention window; data types absent from retain_days are left to the
// migration engine's own age threshold rather than ever being dropped by
// cleanup (spec.md §4.8 only names the hot tier's TTL table-by-table).
func cleanupTables(cfg config.Config) []cleanup.TableConfig {
	tables := make([]cleanup.TableConfig, 0, len(cfg.Cleanup.RetainFor))
	for _, dt := range types.AllDataTypes {
		days, ok := cfg.Cleanup.RetainFor[dt]
		if !ok || days <= 0 {
			continue
		}
		tables = append(tables, cleanup.TableConfig{
			Table:      fmt.Sprintf("%s.%s", cfg.HotStore.Database, types.TableName(types.TierHot, dt)),
			Type:       dt,
			MaxAgeDays: days,
		})
	}
	return tables
}
