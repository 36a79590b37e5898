package live

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/tidepool/internal/platform/timeouts"
	"github.com/louisbranch/tidepool/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State describes the freshness of a snapshot.
type State int

const (
	// StateActive carries a consistent result.
	StateActive State = iota
	// StateDisconnected signals a failed recompute that will be retried.
	// The previous result should be treated as stale but usable.
	StateDisconnected
	// StateUnavailable is terminal for the subscription; the query could
	// not be recomputed after retrying.
	StateUnavailable
)

// Snapshot is one delivered query result. Docs is nil for the disconnected
// and unavailable states.
type Snapshot struct {
	State State
	Docs  []store.Document
	Seq   uint64
}

// Subscription is one subscriber's handle on a live query.
type Subscription struct {
	engine *Engine
	reg    *registration
	ch     chan Snapshot

	once sync.Once
}

// Updates delivers snapshots. The channel coalesces: a slow consumer skips
// intermediate snapshots and always receives the latest. It is closed on
// Unsubscribe.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.ch
}

// Unsubscribe detaches from the query and closes the updates channel. The
// last subscriber to leave tears the registration down.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.engine.release(s.reg, s)
	})
}

// registration is one shared live query: its worker, its subscribers, and
// the dependency state of its last compute.
type registration struct {
	key   string
	query Query

	cancel context.CancelFunc
	done   chan struct{}
	dirty  chan struct{}

	mu sync.Mutex
	// closed marks a registration torn down by its last subscriber; a
	// concurrent Subscribe must start a fresh one instead of attaching.
	closed    bool
	refs      int
	subs      map[*Subscription]struct{}
	deps      store.KeyRange
	hasDeps   bool
	computing bool
	// pending buffers commits that land while a compute is in flight;
	// they are replayed against the fresh dependency range afterwards.
	pending   []store.CommitEvent
	resultIDs map[string]struct{}
	last      *Snapshot
	lastSeq   uint64
}

// Engine owns the registrations and fans committed mutations out to them.
// It implements store.CommitListener and must be registered with the store's
// notifier.
type Engine struct {
	store  store.Store
	tracer trace.Tracer

	mu   sync.Mutex
	regs map[string]*registration
}

// NewEngine builds an engine over the store. The caller wires it to the
// store's commit notifier.
func NewEngine(s store.Store) *Engine {
	return &Engine{
		store:  s,
		tracer: otel.Tracer("tidepool/live"),
		regs:   make(map[string]*registration),
	}
}

// Subscribe attaches to the query, creating its registration on first use.
// The current snapshot, when one exists, is delivered immediately. The
// subscription detaches itself when ctx is canceled.
func (e *Engine) Subscribe(ctx context.Context, query Query) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, span := e.tracer.Start(ctx, "live.subscribe",
		trace.WithAttributes(attribute.String("query.key", query.Key())))
	defer span.End()

	sub := &Subscription{engine: e, ch: make(chan Snapshot, 1)}

	e.mu.Lock()
	for {
		reg, ok := e.regs[query.Key()]
		if !ok {
			workerCtx, cancel := context.WithCancel(context.Background())
			reg = &registration{
				key:    query.Key(),
				query:  query,
				cancel: cancel,
				done:   make(chan struct{}),
				dirty:  make(chan struct{}, 1),
				subs:   make(map[*Subscription]struct{}),
			}
			e.regs[reg.key] = reg
			go e.run(workerCtx, reg)
		}

		reg.mu.Lock()
		if reg.closed {
			reg.mu.Unlock()
			if current, stale := e.regs[reg.key]; stale && current == reg {
				delete(e.regs, reg.key)
			}
			continue
		}
		reg.refs++
		reg.subs[sub] = struct{}{}
		if reg.last != nil {
			sub.ch <- *reg.last
		}
		reg.mu.Unlock()
		sub.reg = reg
		break
	}
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return sub, nil
}

// CommitApplied implements store.CommitListener. It runs on the mutating
// goroutine and only flips dirty flags.
func (e *Engine) CommitApplied(event store.CommitEvent) {
	e.mu.Lock()
	regs := make([]*registration, 0, len(e.regs))
	for _, reg := range e.regs {
		regs = append(regs, reg)
	}
	e.mu.Unlock()

	for _, reg := range regs {
		reg.mu.Lock()
		switch {
		case reg.computing:
			reg.pending = append(reg.pending, event)
		case reg.intersectsLocked(event):
			reg.markDirtyLocked()
		}
		reg.mu.Unlock()
	}
}

// intersectsLocked reports whether the commit can change the query result.
// Before the first compute every commit counts. A commit also counts when it
// touches the point key of a document the last result returned, since a
// content change leaves index-range keys untouched.
func (r *registration) intersectsLocked(event store.CommitEvent) bool {
	if !r.hasDeps {
		return true
	}
	if event.Table != r.deps.Table {
		return false
	}
	for _, key := range event.Keys {
		if r.deps.Contains(key) {
			return true
		}
		if key.Index == "" {
			if _, ok := r.resultIDs[string(key.K)]; ok {
				return true
			}
		}
	}
	return false
}

func (r *registration) markDirtyLocked() {
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

// run is the registration worker: one initial compute, then one recompute
// per dirty signal. A failed compute is retried once after a delay; a second
// failure is terminal.
func (e *Engine) run(ctx context.Context, reg *registration) {
	defer close(reg.done)

	if !e.compute(ctx, reg) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-reg.dirty:
			if !e.compute(ctx, reg) {
				return
			}
		}
	}
}

// compute runs the query once, retrying after a transient failure. It
// reports false when the worker should stop.
func (e *Engine) compute(ctx context.Context, reg *registration) bool {
	reg.mu.Lock()
	reg.computing = true
	reg.pending = nil
	reg.mu.Unlock()

	spanCtx, span := e.tracer.Start(ctx, "live.compute",
		trace.WithAttributes(attribute.String("query.key", reg.key)))
	result, err := reg.query.Compute(spanCtx, e.store)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute failed")
	}
	span.End()
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Printf("live: query %s compute failed, retrying: %v", reg.key, err)
		reg.publish(Snapshot{State: StateDisconnected})
		if !waitRetry(ctx, timeouts.SubscriptionRetry) {
			return false
		}
		spanCtx, span = e.tracer.Start(ctx, "live.compute",
			trace.WithAttributes(attribute.String("query.key", reg.key)))
		result, err = reg.query.Compute(spanCtx, e.store)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compute failed")
		}
		span.End()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			log.Printf("live: query %s unavailable: %v", reg.key, err)
			// Close before publishing so a racing Subscribe retries
			// onto a fresh registration instead of a dead worker.
			reg.mu.Lock()
			reg.closed = true
			reg.mu.Unlock()
			reg.publish(Snapshot{State: StateUnavailable})
			e.drop(reg)
			return false
		}
	}

	reg.mu.Lock()
	reg.deps = result.Deps
	reg.hasDeps = true
	reg.resultIDs = make(map[string]struct{}, len(result.Docs))
	for _, doc := range result.Docs {
		reg.resultIDs[doc.ID] = struct{}{}
	}
	reg.computing = false
	pending := reg.pending
	reg.pending = nil
	for _, event := range pending {
		if event.Seq > result.Seq && reg.intersectsLocked(event) {
			reg.markDirtyLocked()
			break
		}
	}
	reg.mu.Unlock()

	reg.publish(Snapshot{State: StateActive, Docs: result.Docs, Seq: result.Seq})
	return true
}

// publish coalesces a snapshot to every subscriber: a full channel is
// drained first so the latest snapshot always wins. Active snapshots that do
// not advance the sequence of an already delivered one are skipped.
func (r *registration) publish(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.State == StateActive {
		if r.last != nil && r.last.State == StateActive && snap.Seq <= r.lastSeq {
			return
		}
		r.lastSeq = snap.Seq
	}
	r.last = &snap

	for sub := range r.subs {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- snap
		}
	}
}

// release detaches one subscriber; the last one out cancels the worker and
// removes the registration.
func (e *Engine) release(reg *registration, sub *Subscription) {
	reg.mu.Lock()
	if _, ok := reg.subs[sub]; !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.subs, sub)
	reg.refs--
	lastOut := reg.refs == 0
	if lastOut {
		reg.closed = true
	}
	reg.mu.Unlock()

	close(sub.ch)

	if lastOut {
		e.drop(reg)
		reg.cancel()
	}
}

// drop removes the registration from the engine index so the next Subscribe
// starts fresh.
func (e *Engine) drop(reg *registration) {
	e.mu.Lock()
	if current, ok := e.regs[reg.key]; ok && current == reg {
		delete(e.regs, reg.key)
	}
	e.mu.Unlock()
}

// Close tears down every registration and waits for their workers.
func (e *Engine) Close() {
	e.mu.Lock()
	regs := make([]*registration, 0, len(e.regs))
	for _, reg := range e.regs {
		regs = append(regs, reg)
	}
	e.regs = make(map[string]*registration)
	e.mu.Unlock()

	for _, reg := range regs {
		reg.cancel()
		<-reg.done
	}
}

func waitRetry(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
