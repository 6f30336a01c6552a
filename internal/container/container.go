package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/config"
	"github.com/garyjia/expense-approval/internal/infrastructure/worker"
	"go.uber.org/zap"
)

// Container owns every long-lived component. Start builds them in
// dependency order; Close releases them in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	store      *StoreBundle
	notifier   *NotifierBundle
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle
	workers    *worker.WorkerManager

	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of the container and its components
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg and returns an unstarted container
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components. On failure everything built so far
// is released.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.start(ctx); err != nil {
		_ = c.release()
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) start(ctx context.Context) error {
	store, err := ProvideStore(ctx, c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.store = store
	c.logger.Info("Database initialized", zap.String("driver", store.Driver))

	notifier, err := ProvideNotifier(c.config.Notifier, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	c.notifier = notifier

	c.dispatcher = ProvideDispatcher(c.logger)

	services, err := ProvideServices(&ServiceDeps{
		Config:     c.config,
		Store:      c.store,
		Notifier:   c.notifier.Notifier,
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.services = services
	c.logger.Info("Application services initialized")

	c.workers = ProvideWorkers(c.config.Worker, c.services, c.logger)
	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.GetWorkerCount()))

	return nil
}

// Close stops workers, drains the dispatcher and closes connections
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.release()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// release tears down in reverse start order. Workers stop before the
// dispatcher so no reminder is emitted into a closed dispatcher, and the
// dispatcher drains before the store and notifier connections close.
func (c *Container) release() error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.notifier != nil {
		if err := c.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Ready reports whether Start completed
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Config returns the configuration the container was built with
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the root logger
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Services returns the application services. Nil before Start.
func (c *Container) Services() *ServiceBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.services
}

// Store returns the repositories. Nil before Start.
func (c *Container) Store() *StoreBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// Health pings the store and reports worker and dispatcher state
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	if c.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.store.Ping(pingCtx)
		cancel()
		if err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true, Message: c.store.Driver})
		}
	} else {
		set("database", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	if c.notifier != nil {
		set("notifier", ComponentHealth{Healthy: true, Message: c.notifier.Notifier.Name()})
	} else {
		set("notifier", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{Healthy: true})
	} else {
		set("dispatcher", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	if c.workers != nil {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		})
	} else {
		set("workers", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	return status
}
