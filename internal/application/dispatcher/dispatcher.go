package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// Dispatcher routes expense events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler for an event type, or AllEvents
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch sends event to all registered handlers synchronously.
	// Returns first error encountered (handlers run in order).
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync sends event to handlers in the background. Handlers get
	// a context detached from ctx's cancellation so they outlive the request.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu           sync.RWMutex
	handlers     map[event.Type][]HandlerInfo
	logger       Logger
	asyncTimeout time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithAsyncTimeout bounds each async handler call. Zero means no bound.
func WithAsyncTimeout(timeout time.Duration) Option {
	return func(d *eventDispatcher) {
		d.asyncTimeout = timeout
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers:     make(map[event.Type][]HandlerInfo),
		asyncTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers a handler for an event type with an auto-generated name
func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("%s-handler-%d", eventType, len(d.handlers[eventType]))
	d.mu.RUnlock()

	d.SubscribeNamed(eventType, name, handler)
}

// SubscribeNamed registers a handler with a specific name for debugging
func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.mu.Unlock()

	d.logInfo("Handler registered", "event_type", eventType, "handler_name", name)
}

// Unsubscribe removes a handler by name
func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	handlers := d.handlers[eventType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers[eventType] = filtered
	d.mu.Unlock()

	d.logInfo("Handler unregistered", "event_type", eventType, "handler_name", name)
}

// Dispatch sends event to all registered handlers synchronously
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	handlers := d.handlersFor(evt.Type)
	d.logInfo("Dispatching event",
		"event_type", evt.Type,
		"event_id", evt.ID,
		"expense_id", evt.ExpenseID,
		"handler_count", len(handlers),
	)

	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			d.logError("Handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"error", err,
			)
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}

	return nil
}

// DispatchAsync sends event to handlers asynchronously
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	// the closed check and wg.Add share the lock Close takes before Wait
	d.mu.RLock()
	if d.closed.Load() {
		d.mu.RUnlock()
		d.logError("Cannot dispatch async event, dispatcher is closed",
			"event_type", evt.Type,
			"event_id", evt.ID,
		)
		return
	}
	handlers := d.collectHandlers(evt.Type)
	d.wg.Add(len(handlers))
	d.mu.RUnlock()

	d.logInfo("Dispatching event asynchronously",
		"event_type", evt.Type,
		"event_id", evt.ID,
		"expense_id", evt.ExpenseID,
		"handler_count", len(handlers),
	)

	detached := context.WithoutCancel(ctx)
	for _, info := range handlers {
		go func(h HandlerInfo) {
			defer d.wg.Done()

			hctx := detached
			if d.asyncTimeout > 0 {
				var cancel context.CancelFunc
				hctx, cancel = context.WithTimeout(detached, d.asyncTimeout)
				defer cancel()
			}

			if err := d.safeExecute(hctx, evt, h); err != nil {
				d.logError("Async handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", h.Name,
					"error", err,
				)
			}
		}(info)
	}
}

// ListHandlers returns registered handlers for an event type
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		// the handler func stays private
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}

	return result
}

// Close shuts down the dispatcher and waits for async handlers to complete
func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	swapped := d.closed.CompareAndSwap(false, true)
	d.mu.Unlock()
	if !swapped {
		return fmt.Errorf("dispatcher already closed")
	}

	d.logInfo("Closing dispatcher, waiting for async handlers")
	d.wg.Wait()
	d.logInfo("Dispatcher closed")

	return nil
}

// handlersFor returns type-specific handlers followed by AllEvents handlers
func (d *eventDispatcher) handlersFor(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collectHandlers(eventType)
}

// collectHandlers expects d.mu to be held
func (d *eventDispatcher) collectHandlers(eventType event.Type) []HandlerInfo {
	specific := d.handlers[eventType]
	wildcard := d.handlers[AllEvents]
	handlers := make([]HandlerInfo, 0, len(specific)+len(wildcard))
	handlers = append(handlers, specific...)
	if eventType != AllEvents {
		handlers = append(handlers, wildcard...)
	}
	return handlers
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logError("Handler panic recovered",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"panic", r,
			)
		}
	}()

	return info.Handler(ctx, evt)
}

func (d *eventDispatcher) logInfo(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *eventDispatcher) logError(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, keysAndValues...)
	}
}
