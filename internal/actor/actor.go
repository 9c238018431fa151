// Package actor implements the per-tenant coordination actor.
//
// Each tenant key owns exactly one Actor: a dedicated goroutine draining
// an inbound request channel, so all operations against that tenant's
// store execute one at a time in arrival order. Serializability is
// structural — the services below the actor hold no locks of their own.
//
// Once an operation has been handed to the actor it runs to completion
// and commits even if the caller's context expires first; a timed-out
// caller may therefore miss the acknowledgement of a mutation that did
// happen.
package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tenantd/tenantd/internal/counter"
	"github.com/tenantd/tenantd/internal/link"
	"github.com/tenantd/tenantd/internal/lock"
	"github.com/tenantd/tenantd/internal/memory"
	"github.com/tenantd/tenantd/internal/observability"
	"github.com/tenantd/tenantd/internal/queue"
	"github.com/tenantd/tenantd/internal/storage"
)

// ErrInvalidMethod is returned for a method name outside the RPC surface.
var ErrInvalidMethod = errors.New("invalid method")

// ErrActorClosed is returned when invoking an actor that has shut down.
var ErrActorClosed = errors.New("actor closed")

type request struct {
	method string
	args   json.RawMessage
	reply  chan response
}

type response struct {
	result any
	err    error
}

// Actor is the serialized state owner for one tenant.
type Actor struct {
	tenant string
	store  *storage.Store
	log    *observability.Logger

	counters *counter.Store
	locks    *lock.Service
	jobs     *queue.Queue
	memories *memory.Store
	links    *link.Store

	requests chan request
	done     chan struct{}
	stopped  sync.Once
	drained  sync.WaitGroup
}

// Options configure actor behavior.
type Options struct {
	// QueueMaxAttempts is the auto-dead-letter ceiling for the job
	// queue. Zero disables it.
	QueueMaxAttempts int
}

// New spawns the actor goroutine for a tenant over an already-open store.
// The actor takes ownership of the store and closes it on shutdown.
func New(tenant string, store *storage.Store, opts Options, log *observability.Logger) *Actor {
	if log == nil {
		log = observability.NewLogger("actor", nil)
	}
	a := &Actor{
		tenant:   tenant,
		store:    store,
		log:      log.With("tenant", tenant),
		counters: counter.New(store),
		locks:    lock.New(store),
		jobs:     queue.New(store, opts.QueueMaxAttempts),
		memories: memory.New(store),
		links:    link.New(store),
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	a.drained.Add(1)
	go a.run()
	return a
}

// Tenant returns the actor's tenant key.
func (a *Actor) Tenant() string {
	return a.tenant
}

// Invoke executes one RPC method against this tenant's store. Calls are
// serialized in arrival order. The context only bounds the wait for a
// turn and for the reply — an accepted operation is never cancelled.
func (a *Actor) Invoke(ctx context.Context, method string, args json.RawMessage) (any, error) {
	req := request{method: method, args: args, reply: make(chan response, 1)}

	select {
	case a.requests <- req:
	case <-a.done:
		return nil, ErrActorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.result, resp.err
	case <-ctx.Done():
		// The operation still runs to completion in the actor; only the
		// acknowledgement is lost.
		return nil, ctx.Err()
	}
}

// Close stops the actor. In-flight work finishes first; the store is
// closed once the loop drains.
func (a *Actor) Close() error {
	a.stopped.Do(func() {
		close(a.done)
	})
	a.drained.Wait()
	return nil
}

func (a *Actor) run() {
	defer a.drained.Done()
	defer a.store.Close()

	a.log.ActorEvent("spawn", a.tenant)
	for {
		select {
		case req := <-a.requests:
			start := time.Now()
			result, err := a.dispatch(req.method, req.args)
			a.log.Invocation(a.tenant, req.method, time.Since(start), err)
			req.reply <- response{result: result, err: err}
		case <-a.done:
			a.log.ActorEvent("shutdown", a.tenant)
			return
		}
	}
}

// decode unmarshals RPC args, treating empty args as an empty object.
func decode(args json.RawMessage, into any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
