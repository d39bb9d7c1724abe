// Package live keeps query results fresh against a changing store. A
// LiveQuery re-runs its query whenever a sync event touches one of the
// tables the result depends on; a PagedQuery adds incremental page
// loading on top. Each subscription owns its state exclusively; the only
// shared piece is the broadcast bus.
package live

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tobyv/ledgerline/internal/query"
	"github.com/tobyv/ledgerline/internal/syncbus"
)

// Runner executes query descriptors. *query.Executor satisfies it.
type Runner interface {
	RunQuery(ctx context.Context, q *query.Query) (query.Result, error)
}

// Listener is notified with the new and previous data on every accepted
// update, including optimistic ones.
type Listener func(data, prev []query.Row)

// Config wires a LiveQuery.
type Config struct {
	Runner Runner
	Bus    *syncbus.Bus
	Query  *query.Query
	// OnData, when set, is registered as the initial listener.
	OnData Listener
	// OnError receives fetch failures after they are logged. The query
	// stays subscribed either way.
	OnError func(error)
	// OnlySync makes the query ignore "applied" events and react only to
	// confirmed "success" syncs.
	OnlySync bool
	Log      logrus.FieldLogger
}

// LiveQuery is a single query subscription. One instance is bound to one
// Query descriptor for its whole lifetime.
type LiveQuery struct {
	runner   Runner
	bus      *syncbus.Bus
	query    *query.Query
	onError  func(error)
	onlySync bool
	log      logrus.FieldLogger

	// refetch is what a push event re-runs; PagedQuery points it at its
	// windowed fetch.
	refetch func(ctx context.Context) error
	// onOptimistic runs under mu after an optimistic swap.
	onOptimistic func(prevLen, newLen int)

	mu           sync.Mutex
	cond         *sync.Cond
	subscribed   bool
	unlisten     func()
	data         []query.Row
	deps         map[string]struct{}
	inflight     string
	listeners    map[int]Listener
	nextListener int
}

// NewLiveQuery builds a subscription. Call Run (or Start) to begin.
func NewLiveQuery(cfg Config) *LiveQuery {
	lq := &LiveQuery{}
	lq.init(cfg)
	return lq
}

// init wires a LiveQuery in place so PagedQuery can embed one without
// copying its mutex.
func (lq *LiveQuery) init(cfg Config) {
	lq.runner = cfg.Runner
	lq.bus = cfg.Bus
	lq.query = cfg.Query
	lq.onError = cfg.OnError
	lq.onlySync = cfg.OnlySync
	lq.log = cfg.Log
	lq.listeners = make(map[int]Listener)
	if lq.log == nil {
		lq.log = logrus.StandardLogger()
	}
	lq.cond = sync.NewCond(&lq.mu)
	lq.refetch = lq.fetchAll
	if cfg.OnData != nil {
		lq.AddListener(cfg.OnData)
	}
}

// Run subscribes to sync events (idempotent) and issues a fetch. It
// returns once that fetch's effects have been applied, or discarded
// because a newer request superseded it.
func (lq *LiveQuery) Run(ctx context.Context) error {
	lq.subscribe()
	return lq.refetch(ctx)
}

// Start runs the query in the background, matching the fire-and-forget
// factory behavior callers usually want.
func (lq *LiveQuery) Start(ctx context.Context) {
	lq.subscribe()
	go func() { _ = lq.refetch(ctx) }()
}

// Data returns the current result. Callers must not mutate it.
func (lq *LiveQuery) Data() []query.Row {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	return lq.data
}

// Query returns the bound descriptor.
func (lq *LiveQuery) Query() *query.Query { return lq.query }

// AddListener registers fn and returns an unsubscribe func.
func (lq *LiveQuery) AddListener(fn Listener) func() {
	lq.mu.Lock()
	id := lq.nextListener
	lq.nextListener++
	lq.listeners[id] = fn
	lq.mu.Unlock()

	return func() {
		lq.mu.Lock()
		delete(lq.listeners, id)
		lq.mu.Unlock()
	}
}

// OptimisticUpdate transforms the current data synchronously and notifies
// listeners without touching the store. It does not cancel in-flight
// fetches; a late response can overwrite it, and the next sync event
// reconciles.
func (lq *LiveQuery) OptimisticUpdate(fn func(data []query.Row) []query.Row) {
	lq.mu.Lock()
	prev := lq.data
	next := fn(append([]query.Row(nil), prev...))
	lq.data = next
	if lq.onOptimistic != nil {
		lq.onOptimistic(len(prev), len(next))
	}
	ls := lq.snapshotListeners()
	lq.mu.Unlock()

	for _, l := range ls {
		l(next, prev)
	}
}

// Unsubscribe detaches from the event stream. In-flight requests may
// still resolve but will not emit.
func (lq *LiveQuery) Unsubscribe() {
	lq.mu.Lock()
	u := lq.unlisten
	lq.unlisten = nil
	lq.subscribed = false
	lq.cond.Broadcast()
	lq.mu.Unlock()
	if u != nil {
		u()
	}
}

func (lq *LiveQuery) subscribe() {
	lq.mu.Lock()
	if lq.subscribed {
		lq.mu.Unlock()
		return
	}
	lq.subscribed = true
	lq.mu.Unlock()

	unlisten := lq.bus.Listen(syncbus.SyncEventName, lq.onSyncEvent)

	lq.mu.Lock()
	if lq.subscribed {
		lq.unlisten = unlisten
		lq.mu.Unlock()
		return
	}
	lq.mu.Unlock()
	unlisten()
}

func (lq *LiveQuery) onSyncEvent(payload any) {
	ev, ok := payload.(syncbus.Event)
	if !ok {
		return
	}
	if lq.onlySync && ev.Type != syncbus.TypeSuccess {
		return
	}

	lq.mu.Lock()
	relevant := lq.subscribed && lq.dependsOnLocked(ev.Tables)
	lq.mu.Unlock()
	if !relevant {
		return
	}
	go func() { _ = lq.refetch(context.Background()) }()
}

// dependsOnLocked reports whether any of tables intersects the cached
// dependency set. Until the first response establishes dependencies,
// every event is relevant, so a change racing the initial fetch is never
// missed.
func (lq *LiveQuery) dependsOnLocked(tables []string) bool {
	if lq.deps == nil {
		return true
	}
	for _, t := range tables {
		if _, ok := lq.deps[t]; ok {
			return true
		}
	}
	return false
}

// fetchAll is the plain, unpaged fetch.
func (lq *LiveQuery) fetchAll(ctx context.Context) error {
	req := lq.beginRequest()
	res, err := lq.runner.RunQuery(ctx, lq.query)
	if err != nil {
		lq.failRequest(req, err)
		return err
	}
	lq.applyResult(req, res.Data, res.Dependencies)
	return nil
}

// beginRequest tags a new fetch. Whichever request id is current when a
// response lands wins; everything else is discarded. This is the only
// form of cancellation: the transport call still completes, its result
// just never emits.
func (lq *LiveQuery) beginRequest() string {
	id := uuid.NewString()
	lq.mu.Lock()
	lq.inflight = id
	lq.mu.Unlock()
	return id
}

func (lq *LiveQuery) failRequest(id string, err error) {
	lq.mu.Lock()
	if lq.inflight == id {
		lq.inflight = ""
		lq.cond.Broadcast()
	}
	lq.mu.Unlock()
	lq.reportError(err)
}

// applyResult commits a response if its request is still current and the
// query is still subscribed. Returns whether it was applied.
func (lq *LiveQuery) applyResult(id string, data []query.Row, deps []string) bool {
	lq.mu.Lock()
	if lq.inflight != id || !lq.subscribed {
		lq.mu.Unlock()
		return false
	}
	lq.inflight = ""
	if lq.deps == nil && len(deps) > 0 {
		lq.deps = make(map[string]struct{}, len(deps))
		for _, d := range deps {
			lq.deps[d] = struct{}{}
		}
	}
	prev := lq.data
	lq.data = data
	ls := lq.snapshotListeners()
	lq.cond.Broadcast()
	lq.mu.Unlock()

	for _, l := range ls {
		l(data, prev)
	}
	return true
}

func (lq *LiveQuery) snapshotListeners() []Listener {
	ls := make([]Listener, 0, len(lq.listeners))
	for _, l := range lq.listeners {
		ls = append(ls, l)
	}
	return ls
}

func (lq *LiveQuery) reportError(err error) {
	lq.log.WithError(err).Error("live query fetch failed")
	if lq.onError != nil {
		lq.onError(err)
	}
}
