// Package datacollector assembles instances of a target type from field
// values that arrive independently, in any order, from any number of
// goroutines.
//
// A Shape declares the named, typed fields of the target type. A Collector
// owns one single-slot latest-value channel per field and runs a background
// task that joins the most recent value of every field into one instance
// each time all fields have published since the previous instance. Results
// are delivered through a single handler, for success and failure alike.
//
// Key behaviors:
//   - Order independence: fields may arrive in any order from any goroutine
//   - Latest-wins: an unconsumed field value is overwritten, never queued
//   - Fail-fast: one bad emission cancels the whole in-flight collection
//   - Structured teardown: cancellation releases every channel exactly once
//
// Basic usage:
//
//	shape := datacollector.NewShape[User]()
//	datacollector.Field(shape, "name", func(u *User, v string) { u.Name = v })
//	datacollector.Field(shape, "age", func(u *User, v int) { u.Age = v })
//
//	collector := datacollector.NewSingleUse(ctx, shape, func(u User, err error) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(u)
//	})
//
//	go collector.Emit("name", "Ada")
//	go collector.Emit("age", 30)
//	<-collector.Done()
//
// By default a value's type is checked at emission time and a mismatch
// cancels the collector. WithLenientTypes defers the check to assembly
// for continuous workflows that prefer late validation. The two modes are
// distinct configurations, never mixed.
package datacollector

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

const (
	defaultWorkers = 2
	emissionBuffer = 64
)

// emission is one scheduled field delivery.
type emission struct {
	value any
	field string
}

// Collector assembles instances of T from asynchronously emitted field
// values. Create one with New or NewSingleUse; it starts collecting
// immediately and stops when cancelled, when its limit is reached, or on
// the first failure.
type Collector[T any] struct {
	shape     *Shape[T]
	handler   Handler[T]
	channels  []*fieldChannel
	wake      chan struct{}
	emissions chan emission
	failure   chan error
	done      chan struct{}

	ctx    context.Context
	stop   context.CancelFunc
	closed atomic.Bool

	pipeline pipz.Chainable[T]
	limit    int
	workers  int
	lenient  bool
}

// Option configures a Collector before it starts.
type Option[T any] func(*Collector[T])

// WithLimit caps the number of instances the collector assembles. Once
// the limit is reached the collector cancels itself after the final
// handler invocation returns. Zero means unbounded.
func WithLimit[T any](n int) Option[T] {
	return func(c *Collector[T]) {
		c.limit = n
	}
}

// WithWorkers sets the size of the pool that delivers emissions to field
// channels. Defaults to 2.
func WithWorkers[T any](n int) Option[T] {
	return func(c *Collector[T]) {
		c.workers = n
	}
}

// WithLenientTypes defers value type checking from emission time to
// assembly time. In this mode a mismatched value surfaces as a
// construction failure when the tuple completes instead of cancelling the
// collector at the moment of emission.
func WithLenientTypes[T any]() Option[T] {
	return func(c *Collector[T]) {
		c.lenient = true
	}
}

// WithPipeline runs every assembled instance through a pipz chain before
// the handler sees it. A pipeline error takes the normal failure path and
// cancels the collector.
func WithPipeline[T any](p pipz.Chainable[T]) Option[T] {
	return func(c *Collector[T]) {
		c.pipeline = p
	}
}

// New creates a collector for the given shape and starts it immediately.
// The handler receives every assembled instance, or the single error that
// cancelled the collector. The collector stops when ctx is cancelled.
func New[T any](ctx context.Context, shape *Shape[T], handler Handler[T], opts ...Option[T]) *Collector[T] {
	cctx, stop := context.WithCancel(ctx)
	c := &Collector[T]{
		shape:   shape,
		handler: handler,
		wake:    make(chan struct{}, 1),
		failure: make(chan error, 1),
		done:    make(chan struct{}),
		workers: defaultWorkers,
		ctx:     cctx,
		stop:    stop,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers < 1 {
		c.workers = 1
	}

	if shape == nil || shape.Len() == 0 {
		// Nothing to collect: report the configuration failure and tear
		// down before any work starts.
		c.closed.Store(true)
		stop()
		go func() {
			defer close(c.done)
			var zero T
			c.handler(zero, fmt.Errorf("%w: target shape declares nothing to collect", ErrNoFields))
			capitan.Emit(context.Background(), CollectorCancelled,
				KeyType.Field(typeNameOf[T]()),
				KeyReason.Field("empty shape"))
		}()
		return c
	}

	c.channels = make([]*fieldChannel, shape.Len())
	for i := range c.channels {
		c.channels[i] = newFieldChannel(c.wake)
	}
	c.emissions = make(chan emission, emissionBuffer)

	capitan.Emit(context.Background(), CollectorCreated,
		KeyType.Field(typeNameOf[T]()),
		KeyFields.Field(shape.Len()),
		KeyLimit.Field(c.limit))

	for i := 0; i < c.workers; i++ {
		go c.dispatch()
	}
	go c.run()
	return c
}

// NewSingleUse creates a collector that assembles exactly one instance and
// then cancels itself. The handler is invoked exactly once, with either
// the instance or the error that ended the collection.
func NewSingleUse[T any](ctx context.Context, shape *Shape[T], handler Handler[T], opts ...Option[T]) *Collector[T] {
	opts = append(opts, WithLimit[T](1))
	return New(ctx, shape, handler, opts...)
}

// Emit schedules delivery of value to the named field and returns without
// waiting for assembly. Emissions may come from any number of goroutines.
// After cancellation Emit is a no-op; an emission racing a cancellation
// may be silently dropped.
func (c *Collector[T]) Emit(field string, value any) {
	if c.closed.Load() {
		capitan.Emit(context.Background(), EmitRejected,
			KeyField.Field(field))
		return
	}
	select {
	case c.emissions <- emission{field: field, value: value}:
	case <-c.ctx.Done():
	}
}

// Cancel terminates the background task, releases every field channel and
// transitions the collector to its terminal state. Safe to call multiple
// times and from any goroutine; no handler invocation follows a completed
// Cancel.
func (c *Collector[T]) Cancel() {
	c.closed.Store(true)
	c.stop()
}

// Cancelled reports whether the collector has reached its terminal state.
func (c *Collector[T]) Cancelled() bool {
	return c.closed.Load()
}

// Done returns a channel closed once the collector has fully torn down:
// background task stopped, channels released, final handler call returned.
func (c *Collector[T]) Done() <-chan struct{} {
	return c.done
}

// dispatch is one delivery worker. Workers pull scheduled emissions,
// validate them in the strict mode, and publish to the field's channel.
func (c *Collector[T]) dispatch() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case e := <-c.emissions:
			c.deliver(e)
		}
	}
}

func (c *Collector[T]) deliver(e emission) {
	i, ok := c.shape.index[e.field]
	if !ok {
		c.abort(fmt.Errorf("%w: %q", ErrUnknownField, e.field))
		return
	}
	sl := c.shape.slots[i]
	if !c.lenient {
		if err := sl.check(e.value); err != nil {
			c.abort(err)
			return
		}
	}
	superseded := c.channels[i].publish(e.value)
	capitan.Emit(context.Background(), FieldPublished,
		KeyField.Field(e.field),
		KeySuperseded.Field(superseded))
}

// abort records the first fatal error and begins cancellation. The run
// loop reports it through the handler, so success and failure share one
// delivery path.
func (c *Collector[T]) abort(err error) {
	select {
	case c.failure <- err:
	default:
	}
	c.stop()
}

// run is the one background task per collector: it waits for field
// publishes, joins the latest values into a tuple once every field has
// published since the previous tuple, assembles the instance and delivers
// it. It exits only through cancellation.
func (c *Collector[T]) run() {
	defer c.teardown()

	n := len(c.channels)
	latest := make([]any, n)
	armed := make([]bool, n)
	pending := n
	count := 0

	for {
		select {
		case <-c.ctx.Done():
			c.reportFailure()
			return
		case <-c.wake:
		}

		// Drain every fresh slot into the pending tuple. Overwrites inside
		// a channel have already collapsed to the latest value.
		for i, ch := range c.channels {
			if v, ok := ch.take(); ok {
				latest[i] = v
				if !armed[i] {
					armed[i] = true
					pending--
				}
			}
		}
		if pending > 0 {
			continue
		}

		out, err := c.shape.assemble(latest)
		if err == nil && c.pipeline != nil {
			out, err = c.pipeline.Process(c.ctx, out)
		}
		if err != nil {
			if c.closed.CompareAndSwap(false, true) {
				var zero T
				c.handler(zero, err)
				capitan.Emit(context.Background(), AssemblyFailed,
					KeyType.Field(typeNameOf[T]()),
					KeyError.Field(err.Error()))
			}
			c.stop()
			return
		}

		// Re-arm: the next tuple requires a fresh value from every field.
		for i := range armed {
			armed[i] = false
		}
		pending = n

		// A failure or cancellation that raced this tuple wins; the
		// assembled instance is dropped.
		select {
		case ferr := <-c.failure:
			if c.closed.CompareAndSwap(false, true) {
				var zero T
				c.handler(zero, ferr)
				capitan.Emit(context.Background(), AssemblyFailed,
					KeyType.Field(typeNameOf[T]()),
					KeyError.Field(ferr.Error()))
			}
			c.stop()
			return
		default:
		}
		if c.closed.Load() {
			return
		}

		c.handler(out, nil)
		count++
		capitan.Emit(context.Background(), TupleAssembled,
			KeyType.Field(typeNameOf[T]()),
			KeyCount.Field(count))

		if c.limit > 0 && count >= c.limit {
			capitan.Emit(context.Background(), LimitReached,
				KeyType.Field(typeNameOf[T]()),
				KeyLimit.Field(c.limit))
			c.closed.Store(true)
			c.stop()
			return
		}
	}
}

// reportFailure delivers the pending fatal error, if the collector was not
// already cancelled explicitly.
func (c *Collector[T]) reportFailure() {
	select {
	case err := <-c.failure:
		if c.closed.CompareAndSwap(false, true) {
			var zero T
			c.handler(zero, err)
			capitan.Emit(context.Background(), AssemblyFailed,
				KeyType.Field(typeNameOf[T]()),
				KeyError.Field(err.Error()))
		}
	default:
	}
}

// teardown releases all collector resources exactly once. Only the run
// loop reaches it.
func (c *Collector[T]) teardown() {
	c.closed.Store(true)
	for _, ch := range c.channels {
		ch.release()
	}
	capitan.Emit(context.Background(), CollectorCancelled,
		KeyType.Field(typeNameOf[T]()))
	close(c.done)
}
