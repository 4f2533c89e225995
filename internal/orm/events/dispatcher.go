package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/conduit-lang/docmapper/internal/orm/metadata"
)

// Dispatcher runs lifecycle listeners in order:
// global listeners, then the document-type listeners named by the event's
// metadata, then the method hooks the metadata binds to the event.
type Dispatcher struct {
	mu       sync.RWMutex
	global   map[string][]*Listener
	byType   map[string]map[string][]*Listener
	queue    *AsyncQueue
	ownQueue bool
	logger   *zap.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger used for listener failures
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithAsyncQueue sets the queue running async listeners. The caller owns the
// queue's lifecycle.
func WithAsyncQueue(queue *AsyncQueue) Option {
	return func(d *Dispatcher) {
		d.queue = queue
	}
}

// NewDispatcher creates a dispatcher
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		global: make(map[string][]*Listener),
		byType: make(map[string]map[string][]*Listener),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queue == nil {
		d.queue = NewAsyncQueue(4, d.logger)
		d.queue.Start()
		d.ownQueue = true
	}
	return d
}

// AddListener registers a listener invoked on every dispatch of event
func (d *Dispatcher) AddListener(event string, l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global[event] = append(d.global[event], l)
}

// RemoveListener unregisters a global listener previously passed to
// AddListener. It returns false when l was not registered for event.
func (d *Dispatcher) RemoveListener(event string, l *Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	listeners := d.global[event]
	for i, existing := range listeners {
		if existing != l {
			continue
		}
		kept := make([]*Listener, 0, len(listeners)-1)
		kept = append(kept, listeners[:i]...)
		kept = append(kept, listeners[i+1:]...)
		if len(kept) == 0 {
			delete(d.global, event)
		} else {
			d.global[event] = kept
		}
		return true
	}
	return false
}

// ListenerCount returns the number of listeners dispatching event for meta
// would invoke
func (d *Dispatcher) ListenerCount(event string, meta *metadata.Metadata) int {
	return len(d.chain(event, meta))
}

// AddDocumentListener registers a listener invoked only for metadata that
// names listenerName among its listeners
func (d *Dispatcher) AddDocumentListener(listenerName, event string, l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	events, ok := d.byType[listenerName]
	if !ok {
		events = make(map[string][]*Listener)
		d.byType[listenerName] = events
	}
	events[event] = append(events[event], l)
}

// HasListeners returns true if dispatching event for meta would invoke anything
func (d *Dispatcher) HasListeners(event string, meta *metadata.Metadata) bool {
	return len(d.chain(event, meta)) > 0
}

// chain builds the ordered handler list for one dispatch
func (d *Dispatcher) chain(event string, meta *metadata.Metadata) []*Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()

	chain := make([]*Listener, 0, len(d.global[event]))
	chain = append(chain, d.global[event]...)

	if meta == nil {
		return chain
	}
	for _, name := range meta.Listeners {
		chain = append(chain, d.byType[name][event]...)
	}
	for i, hook := range meta.MethodHooks(event) {
		hook := hook
		chain = append(chain, &Listener{
			Name: fmt.Sprintf("%s.%s#%d", meta.Name, event, i),
			Fn: func(ctx context.Context, ec *EventContext) error {
				if ec.Document == nil {
					return nil
				}
				return hook(ctx, ec.Document)
			},
		})
	}
	return chain
}

// Dispatch invokes the listeners of event sequentially with the shared
// context. A failing listener is logged and the chain continues, unless it
// returned an Abort error, which stops the chain and is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, ec *EventContext) error {
	if ec == nil {
		ec = &EventContext{}
	}
	ec.Event = event

	chain := d.chain(event, ec.Metadata)
	if len(chain) == 0 {
		return nil
	}

	for _, l := range chain {
		if l.Async {
			d.enqueue(event, l, ec.copyForAsync())
			continue
		}

		err := d.invoke(ctx, l, ec)
		if err == nil {
			continue
		}
		if IsAbort(err) {
			d.logger.Debug("listener aborted event",
				zap.String("event", event),
				zap.String("listener", l.Name),
				zap.Error(err))
			return err
		}
		d.logger.Warn("listener failed",
			zap.String("event", event),
			zap.String("listener", l.Name),
			zap.Error(err))
		ec.ListenerErrors = multierr.Append(ec.ListenerErrors, err)
	}

	return nil
}

// invoke runs one listener, converting a panic into an error
func (d *Dispatcher) invoke(ctx context.Context, l *Listener, ec *EventContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener %s panicked: %v", l.Name, r)
		}
	}()
	return l.Fn(ctx, ec)
}

func (d *Dispatcher) enqueue(event string, l *Listener, ec *EventContext) {
	task := AsyncTask{
		Name: fmt.Sprintf("%s:%s", event, l.Name),
		Fn: func(ctx context.Context) error {
			return l.Fn(ctx, ec)
		},
	}
	if err := d.queue.Enqueue(task); err != nil {
		d.logger.Warn("failed to enqueue async listener",
			zap.String("event", event),
			zap.String("listener", l.Name),
			zap.Error(err))
	}
}

// Close drains the async queue if the dispatcher created it
func (d *Dispatcher) Close() {
	if d.ownQueue {
		d.queue.Shutdown()
	}
}
