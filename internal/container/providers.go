// Package container wires configuration, stores, notifiers, the approval
// engine, services and background workers, and owns their lifecycle.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/config"
	"github.com/garyjia/expense-approval/internal/infrastructure/currency"
	"github.com/garyjia/expense-approval/internal/infrastructure/notify"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/report"
	"github.com/garyjia/expense-approval/internal/infrastructure/storage"
	"github.com/garyjia/expense-approval/internal/infrastructure/worker"
	"github.com/garyjia/expense-approval/pkg/database"
	"github.com/garyjia/expense-approval/pkg/utils"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// StoreBundle holds the repositories and transaction manager of one store
// together with the function that releases it.
type StoreBundle struct {
	Driver    string
	Companies port.CompanyRepository
	Users     port.UserRepository
	OrgChart  port.OrgChart
	Workflows port.WorkflowRepository
	Expenses  port.ExpenseRepository
	TxManager port.TransactionManager

	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks the underlying connection
func (b *StoreBundle) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases the underlying connection
func (b *StoreBundle) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// NotifierBundle holds the fan-out notifier and the connections it owns
type NotifierBundle struct {
	Notifier port.Notifier
	natsConn *nats.Conn
}

// Close drains the NATS connection, if any
func (b *NotifierBundle) Close() error {
	if b.natsConn == nil {
		return nil
	}
	return b.natsConn.Drain()
}

// ServiceBundle holds the engine and every application service
type ServiceBundle struct {
	Engine        workflow.ApprovalEngine
	Companies     service.CompanyService
	Workflows     service.WorkflowService
	Expenses      service.ExpenseService
	Approvals     service.ApprovalService
	Notifications service.NotificationService
	Reminders     service.ReminderService
	Reports       service.ReportService
}

// ProvideStore opens the configured store, applies migrations and builds
// its repositories
func ProvideStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		return provideSQLite(cfg, logger)
	case config.DriverPostgres:
		return providePostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func provideSQLite(cfg config.DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(conn, logger).RunMigrations(sqlite.Migrations, sqlite.MigrationsDir); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db := sqlite.NewDB(conn.DB, logger)
	users := sqlite.NewUserRepository(db, logger)

	return &StoreBundle{
		Driver:    config.DriverSQLite,
		Companies: sqlite.NewCompanyRepository(db, logger),
		Users:     users,
		OrgChart:  users,
		Workflows: sqlite.NewWorkflowRepository(db, logger),
		Expenses:  sqlite.NewExpenseRepository(db, logger),
		TxManager: db,
		ping:      db.PingContext,
		close:     conn.Close,
	}, nil
}

func providePostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	store, err := postgres.Open(ctx, postgres.Config{
		DSN:      cfg.DSN,
		MaxConns: int32(cfg.MaxOpenConns),
		MinConns: int32(cfg.MaxIdleConns),
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	users := postgres.NewUserRepository(store, logger)

	return &StoreBundle{
		Driver:    config.DriverPostgres,
		Companies: postgres.NewCompanyRepository(store, logger),
		Users:     users,
		OrgChart:  users,
		Workflows: postgres.NewWorkflowRepository(store, logger),
		Expenses:  postgres.NewExpenseRepository(store, logger),
		TxManager: store,
		ping:      store.Ping,
		close: func() error {
			store.Close()
			return nil
		},
	}, nil
}

// ProvideNotifier builds one notifier per configured driver and fans out
// to all of them
func ProvideNotifier(cfg config.NotifierConfig, logger *zap.Logger) (*NotifierBundle, error) {
	bundle := &NotifierBundle{}
	var notifiers []port.Notifier

	for _, driver := range cfg.Drivers {
		switch driver {
		case config.NotifierLog:
			notifiers = append(notifiers, notify.NewLogNotifier(logger))

		case config.NotifierNATS:
			conn, err := notify.ConnectNATS(cfg.NATS.URL, logger)
			if err != nil {
				_ = bundle.Close()
				return nil, err
			}
			bundle.natsConn = conn
			notifiers = append(notifiers, notify.NewNATSNotifier(conn, cfg.NATS.SubjectPrefix, logger))

		case config.NotifierLark:
			api := notify.NewLarkMessageAPI(notify.LarkConfig{
				AppID:     cfg.Lark.AppID,
				AppSecret: cfg.Lark.AppSecret,
			}, logger)
			notifiers = append(notifiers, notify.NewLarkNotifier(api, logger))

		default:
			_ = bundle.Close()
			return nil, fmt.Errorf("unsupported notifier driver %q", driver)
		}
	}

	if len(notifiers) == 0 {
		notifiers = append(notifiers, notify.NewLogNotifier(logger))
	}

	if len(notifiers) == 1 {
		bundle.Notifier = notifiers[0]
	} else {
		bundle.Notifier = notify.NewMultiNotifier(notifiers...)
	}

	logger.Info("Notifier configured", zap.String("notifier", bundle.Notifier.Name()))
	return bundle, nil
}

// ProvideDispatcher creates the event dispatcher
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKeyValueLogger(logger, "dispatcher")),
		dispatcher.WithAsyncTimeout(30*time.Second),
	)
}

// ServiceDeps holds what ProvideServices needs
type ServiceDeps struct {
	Config     *config.Config
	Store      *StoreBundle
	Notifier   port.Notifier
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideServices builds the engine and services and subscribes the
// notification service to the dispatcher
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Config == nil || deps.Store == nil {
		return nil, fmt.Errorf("config and store are required")
	}
	if deps.Notifier == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("notifier and dispatcher are required")
	}

	cfg := deps.Config
	store := deps.Store
	logger := deps.Logger

	converter, err := currency.NewStaticConverter(cfg.Currency.Base, cfg.Currency.Rates)
	if err != nil {
		return nil, fmt.Errorf("failed to build currency converter: %w", err)
	}

	var archive port.ReportArchive
	if cfg.Report.ArchiveDir != "" {
		archive = storage.NewLocalReportArchive(cfg.Report.ArchiveDir, logger)
	}

	engine := workflow.NewEngine(
		store.Expenses,
		store.Workflows,
		store.Users,
		store.OrgChart,
		store.TxManager,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(utils.NewKeyValueLogger(logger, "engine")),
	)

	notifications := service.NewNotificationService(
		store.Expenses,
		store.Users,
		deps.Notifier,
		utils.NewKeyValueLogger(logger, "notification"),
	)
	notifications.Register(deps.Dispatcher)

	return &ServiceBundle{
		Engine: engine,
		Companies: service.NewCompanyService(
			store.Companies,
			store.Users,
			store.TxManager,
			utils.NewKeyValueLogger(logger, "company"),
		),
		Workflows: service.NewWorkflowService(
			store.Workflows,
			store.Expenses,
			engine,
			store.TxManager,
			utils.NewKeyValueLogger(logger, "workflow"),
		),
		Expenses: service.NewExpenseService(
			store.Expenses,
			store.Companies,
			store.Users,
			store.OrgChart,
			converter,
			utils.NewKeyValueLogger(logger, "expense"),
		),
		Approvals: service.NewApprovalService(
			store.Expenses,
			store.Workflows,
			engine,
			utils.NewKeyValueLogger(logger, "approval"),
		),
		Notifications: notifications,
		Reminders: service.NewReminderService(
			store.Expenses,
			engine,
			deps.Dispatcher,
			service.ReminderConfig{
				After:     cfg.Worker.ReminderAfter,
				Interval:  cfg.Worker.ReminderInterval,
				BatchSize: cfg.Worker.BatchSize,
			},
			utils.NewKeyValueLogger(logger, "reminder"),
		),
		Reports: service.NewReportService(
			store.Expenses,
			store.Users,
			report.NewXLSXExporter(logger),
			archive,
			utils.NewKeyValueLogger(logger, "report"),
		),
	}, nil
}

// ProvideWorkers registers the background workers enabled in cfg
func ProvideWorkers(cfg config.WorkerConfig, services *ServiceBundle, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger)

	if cfg.ReminderEnabled {
		manager.Register(worker.NewReminderWorker(worker.ReminderWorkerConfig{
			PollInterval: cfg.PollInterval,
		}, services.Reminders, logger))
	}

	return manager
}
