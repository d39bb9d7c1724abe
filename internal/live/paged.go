package live

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tobyv/ledgerline/internal/query"
)

// DefaultPageCount is the page size used when a PagedConfig leaves it 0.
const DefaultPageCount = 500

// fetchRetryLimit bounds the internal retry loop of FetchNext. Staleness
// retries are normal operation, but they must not spin forever.
const fetchRetryLimit = 10

// ErrNoOrderField is returned by RefetchUpToRow when neither the query
// nor the fallback provides an order field.
var ErrNoOrderField = errors.New("live: no order field to refetch against")

// PagedConfig wires a PagedQuery.
type PagedConfig struct {
	Config
	PageCount int
	// OnPageData receives only the newly fetched rows of each page, in
	// addition to the full-data listener.
	OnPageData func(rows []query.Row)
}

// PagedQuery loads a large result set page by page while keeping
// LiveQuery's freshness guarantees.
type PagedQuery struct {
	LiveQuery

	pageCount  int
	onPageData func([]query.Row)

	// guarded by LiveQuery.mu
	totalCount int
	hasNext    bool
	fetchDone  chan struct{}
}

// NewPagedQuery builds a paged subscription. Call Run (or Start) to
// begin.
func NewPagedQuery(cfg PagedConfig) *PagedQuery {
	pq := &PagedQuery{
		pageCount:  cfg.PageCount,
		onPageData: cfg.OnPageData,
	}
	pq.LiveQuery.init(cfg.Config)
	if pq.pageCount <= 0 {
		pq.pageCount = DefaultPageCount
	}
	pq.refetch = pq.runPaged
	pq.onOptimistic = func(prevLen, newLen int) {
		pq.totalCount += newLen - prevLen
	}
	return pq
}

// TotalCount is the last known total result size. It is refreshed on
// every Run and adjusted by optimistic updates; it is not guaranteed to
// match len(Data()), which may be a strict prefix.
func (pq *PagedQuery) TotalCount() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.totalCount
}

// HasNext reports whether more pages may remain.
func (pq *PagedQuery) HasNext() bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.hasNext
}

// runPaged refreshes the count in parallel and re-reads everything that
// is already paged in, never less than one page. A push-driven refresh
// after deep paging therefore re-issues a correspondingly large query.
func (pq *PagedQuery) runPaged(ctx context.Context) error {
	go pq.fetchCount(ctx)

	id := uuid.NewString()
	pq.mu.Lock()
	pq.inflight = id
	limit := len(pq.data)
	pq.mu.Unlock()
	if limit < pq.pageCount {
		limit = pq.pageCount
	}

	res, err := pq.runner.RunQuery(ctx, pq.query.Limit(limit).Offset(0))
	if err != nil {
		pq.failRequest(id, err)
		return err
	}
	if pq.applyResult(id, res.Data, res.Dependencies) {
		pq.mu.Lock()
		pq.hasNext = len(res.Data) == limit
		pq.mu.Unlock()
	}
	return nil
}

func (pq *PagedQuery) fetchCount(ctx context.Context) {
	res, err := pq.runner.RunQuery(ctx, pq.query.Calculate("$count", "*"))
	if err != nil {
		pq.reportError(err)
		return
	}
	if len(res.Data) == 0 {
		return
	}
	if n, ok := asInt(res.Data[0]["value"]); ok {
		pq.mu.Lock()
		pq.totalCount = n
		pq.mu.Unlock()
	}
}

// FetchNext loads one more page. Concurrent calls coalesce: while a
// fetch-next is pending, callers wait for it instead of issuing their
// own.
func (pq *PagedQuery) FetchNext(ctx context.Context) error {
	pq.mu.Lock()
	if pq.fetchDone != nil {
		done := pq.fetchDone
		pq.mu.Unlock()
		<-done
		return nil
	}
	done := make(chan struct{})
	pq.fetchDone = done
	pq.mu.Unlock()

	defer func() {
		pq.mu.Lock()
		pq.fetchDone = nil
		pq.mu.Unlock()
		close(done)
	}()
	return pq.fetchNextPage(ctx)
}

func (pq *PagedQuery) fetchNextPage(ctx context.Context) error {
	for attempt := 0; attempt < fetchRetryLimit; attempt++ {
		pq.mu.Lock()
		// An unrelated refresh is in flight: wait it out, then recompute
		// the offset, since the data may have changed underneath.
		for pq.inflight != "" && pq.subscribed {
			pq.cond.Wait()
		}
		if !pq.subscribed || !pq.hasNext {
			pq.mu.Unlock()
			return nil
		}
		before := pq.data
		offset := len(before)
		pq.mu.Unlock()

		res, err := pq.runner.RunQuery(ctx, pq.query.Limit(pq.pageCount).Offset(offset))
		if err != nil {
			pq.reportError(err)
			return err
		}

		pq.mu.Lock()
		if pq.inflight != "" || !sameRows(pq.data, before) {
			// Never concatenate onto stale state.
			pq.mu.Unlock()
			continue
		}
		page := res.Data
		prev := pq.data
		next := make([]query.Row, 0, len(prev)+len(page))
		next = append(next, prev...)
		next = append(next, page...)
		pq.data = next
		if len(page) < pq.pageCount {
			pq.hasNext = false
		}
		ls := pq.snapshotListeners()
		onPage := pq.onPageData
		pq.mu.Unlock()

		for _, l := range ls {
			l(next, prev)
		}
		if onPage != nil {
			onPage(page)
		}
		return nil
	}
	return nil
}

// RefetchUpToRow reloads everything from the top of the result order down
// to the row with the given id, plus one page past it for context. Used
// for scroll-to-row without paging through everything in between. If the
// target row is no longer in the result set, nothing changes.
func (pq *PagedQuery) RefetchUpToRow(ctx context.Context, id any, fallback query.Order) error {
	ord, err := pq.effectiveOrder(fallback)
	if err != nil {
		return err
	}

	req := pq.beginRequest()

	rowRes, err := pq.runner.RunQuery(ctx, pq.query.Unpaged().
		Filter(map[string]any{"id": id}).
		Select(ord.Field))
	if err != nil {
		pq.failRequest(req, err)
		return err
	}
	if len(rowRes.Data) == 0 {
		pq.mu.Lock()
		if pq.inflight == req {
			pq.inflight = ""
			pq.cond.Broadcast()
		}
		pq.mu.Unlock()
		return nil
	}
	boundary := rowRes.Data[0][ord.Field]

	inclusive, strict := "$lte", "$gt"
	if ord.Dir == query.Desc {
		inclusive, strict = "$gte", "$lt"
	}

	headRes, err := pq.runner.RunQuery(ctx, pq.query.Unpaged().
		Filter(map[string]any{ord.Field: map[string]any{inclusive: boundary}}))
	if err != nil {
		pq.failRequest(req, err)
		return err
	}
	tailRes, err := pq.runner.RunQuery(ctx, pq.query.Unpaged().
		Filter(map[string]any{ord.Field: map[string]any{strict: boundary}}).
		Limit(pq.pageCount))
	if err != nil {
		pq.failRequest(req, err)
		return err
	}

	data := make([]query.Row, 0, len(headRes.Data)+len(tailRes.Data))
	data = append(data, headRes.Data...)
	data = append(data, tailRes.Data...)
	if pq.applyResult(req, data, headRes.Dependencies) {
		pq.mu.Lock()
		pq.hasNext = len(tailRes.Data) == pq.pageCount
		pq.mu.Unlock()
	}
	return nil
}

func (pq *PagedQuery) effectiveOrder(fallback query.Order) (query.Order, error) {
	if specs := pq.query.OrderSpecs(); len(specs) > 0 {
		return specs[0], nil
	}
	if fallback.Field == "" {
		return query.Order{}, ErrNoOrderField
	}
	if fallback.Dir == "" {
		fallback.Dir = query.Asc
	}
	return fallback, nil
}

// sameRows is reference identity on the backing array, the staleness
// check FetchNext commits against.
func sameRows(a, b []query.Row) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
