package live

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tobyv/ledgerline/internal/query"
	"github.com/tobyv/ledgerline/internal/syncbus"
)

// memRunner serves queries from an in-memory row set, honoring filters,
// order, limit/offset and $count, and records the non-aggregate queries
// it saw.
type memRunner struct {
	mu   sync.Mutex
	rows []query.Row
	main []*query.Query
}

func (m *memRunner) RunQuery(_ context.Context, q *query.Query) (query.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]query.Row, 0, len(m.rows))
	for _, r := range m.rows {
		if matchConds(r, q.Conds()) {
			matched = append(matched, r)
		}
	}
	if specs := q.OrderSpecs(); len(specs) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, s := range specs {
				c := cmpVals(matched[i][s.Field], matched[j][s.Field])
				if c == 0 {
					continue
				}
				if s.Dir == query.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.IsCalculate() {
		return query.Result{
			Data:         []query.Row{{"value": int64(len(matched))}},
			Dependencies: []string{q.Table()},
		}, nil
	}
	m.main = append(m.main, q)
	if off, ok := q.OffsetValue(); ok {
		if off < len(matched) {
			matched = matched[off:]
		} else {
			matched = nil
		}
	}
	if lim, ok := q.LimitValue(); ok && lim < len(matched) {
		matched = matched[:lim]
	}
	out := append([]query.Row(nil), matched...)
	return query.Result{Data: out, Dependencies: []string{q.Table()}}, nil
}

func (m *memRunner) mainCalls() []*query.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*query.Query(nil), m.main...)
}

func matchConds(r query.Row, conds []query.Cond) bool {
	for _, c := range conds {
		v := r[c.Field]
		switch c.Op {
		case "$eq":
			if cmpVals(v, c.Value) != 0 {
				return false
			}
		case "$ne":
			if cmpVals(v, c.Value) == 0 {
				return false
			}
		case "$lt":
			if cmpVals(v, c.Value) >= 0 {
				return false
			}
		case "$lte":
			if cmpVals(v, c.Value) > 0 {
				return false
			}
		case "$gt":
			if cmpVals(v, c.Value) <= 0 {
				return false
			}
		case "$gte":
			if cmpVals(v, c.Value) < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func cmpVals(a, b any) int {
	if ai, ok := toI64(a); ok {
		if bi, ok := toI64(b); ok {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toI64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func txRows(n int) []query.Row {
	rows := make([]query.Row, n)
	for i := range rows {
		rows[i] = query.Row{"id": fmt.Sprintf("t%02d", i+1), "amount": int64(i + 1)}
	}
	return rows
}

func TestPagedMonotonicGrowth(t *testing.T) {
	t.Parallel()

	m := &memRunner{rows: txRows(10)}
	var pages [][]query.Row
	var pagesMu sync.Mutex
	pq := NewPagedQuery(PagedConfig{
		Config: Config{
			Runner: m,
			Bus:    syncbus.New(),
			Query:  query.New("transactions").OrderBy("amount", query.Asc),
		},
		PageCount: 4,
		OnPageData: func(rows []query.Row) {
			pagesMu.Lock()
			pages = append(pages, rows)
			pagesMu.Unlock()
		},
	})
	ctx := context.Background()

	require.NoError(t, pq.Run(ctx))
	require.Len(t, pq.Data(), 4)
	require.True(t, pq.HasNext())

	require.NoError(t, pq.FetchNext(ctx))
	require.Len(t, pq.Data(), 8)
	require.True(t, pq.HasNext())

	require.NoError(t, pq.FetchNext(ctx))
	require.Len(t, pq.Data(), 10)
	require.False(t, pq.HasNext())

	// no-op once exhausted
	before := len(m.mainCalls())
	require.NoError(t, pq.FetchNext(ctx))
	require.Len(t, m.mainCalls(), before)

	pagesMu.Lock()
	require.Len(t, pages, 2)
	require.Len(t, pages[0], 4)
	require.Len(t, pages[1], 2)
	require.Equal(t, int64(9), pages[1][0]["amount"])
	pagesMu.Unlock()

	require.Eventually(t, func() bool { return pq.TotalCount() == 10 }, 2*time.Second, 10*time.Millisecond)
}

func TestFetchNextConcurrencyCollapse(t *testing.T) {
	t.Parallel()

	r := newGatedRunner()
	pq := NewPagedQuery(PagedConfig{
		Config: Config{
			Runner: r,
			Bus:    syncbus.New(),
			Query:  query.New("transactions"),
		},
		PageCount: 3,
	})

	done := make(chan error, 1)
	go func() { done <- pq.Run(context.Background()) }()
	awaitCall(t, r).resolve(query.Result{
		Data:         []query.Row{{"n": int64(1)}, {"n": int64(2)}, {"n": int64(3)}},
		Dependencies: []string{"transactions"},
	})
	require.NoError(t, <-done)
	require.True(t, pq.HasNext())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pq.FetchNext(context.Background())
		}()
	}

	page := awaitCall(t, r)
	lim, _ := page.Query.LimitValue()
	off, _ := page.Query.OffsetValue()
	require.Equal(t, 3, lim)
	require.Equal(t, 3, off)

	// a short page: end of data, so any straggler bails instead of fetching
	page.resolve(query.Result{
		Data:         []query.Row{{"n": int64(4)}, {"n": int64(5)}},
		Dependencies: []string{"transactions"},
	})
	wg.Wait()

	require.Len(t, pq.Data(), 5)
	require.False(t, pq.HasNext())
	expectNoCall(t, r)
}

func TestRunRefetchesWholeLoadedWindow(t *testing.T) {
	t.Parallel()

	m := &memRunner{rows: txRows(20)}
	pq := NewPagedQuery(PagedConfig{
		Config: Config{
			Runner: m,
			Bus:    syncbus.New(),
			Query:  query.New("transactions").OrderBy("amount", query.Asc),
		},
		PageCount: 5,
	})
	ctx := context.Background()

	require.NoError(t, pq.Run(ctx))
	require.NoError(t, pq.FetchNext(ctx))
	require.NoError(t, pq.FetchNext(ctx))
	require.Len(t, pq.Data(), 15)

	// a push-driven refresh reloads everything already paged in
	pq.bus.Publish(syncbus.SyncEventName, syncbus.Event{Type: syncbus.TypeApplied, Tables: []string{"transactions"}})
	require.Eventually(t, func() bool {
		calls := m.mainCalls()
		last := calls[len(calls)-1]
		lim, _ := last.LimitValue()
		off, _ := last.OffsetValue()
		return lim == 15 && off == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(pq.Data()) == 15 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return pq.TotalCount() == 20 }, 2*time.Second, 10*time.Millisecond)
}

func TestRefetchUpToRow(t *testing.T) {
	t.Parallel()

	m := &memRunner{rows: txRows(20)}
	pq := NewPagedQuery(PagedConfig{
		Config: Config{
			Runner: m,
			Bus:    syncbus.New(),
			Query:  query.New("transactions").OrderBy("amount", query.Asc),
		},
		PageCount: 4,
	})
	ctx := context.Background()

	require.NoError(t, pq.Run(ctx))
	require.Len(t, pq.Data(), 4)

	require.NoError(t, pq.RefetchUpToRow(ctx, "t10", query.Order{}))
	data := pq.Data()
	// rows 1..10 inclusive plus one page of context past the target
	require.Len(t, data, 14)
	found := false
	for _, r := range data {
		if r["id"] == "t10" {
			found = true
		}
	}
	require.True(t, found)
	require.True(t, pq.HasNext())
}

func TestRefetchUpToRowTargetVanished(t *testing.T) {
	t.Parallel()

	m := &memRunner{rows: txRows(20)}
	pq := NewPagedQuery(PagedConfig{
		Config: Config{
			Runner: m,
			Bus:    syncbus.New(),
			Query: query.New("transactions").
				Filter(map[string]any{"amount": map[string]any{"$lte": int64(15)}}).
				OrderBy("amount", query.Asc),
		},
		PageCount: 4,
	})
	ctx := context.Background()

	require.NoError(t, pq.Run(ctx))
	before := pq.Data()

	// t18 is filtered out of the result set: nothing must change
	require.NoError(t, pq.RefetchUpToRow(ctx, "t18", query.Order{}))
	require.Equal(t, before, pq.Data())
}

func TestRefetchUpToRowOrderResolution(t *testing.T) {
	t.Parallel()

	m := &memRunner{rows: txRows(8)}
	pq := NewPagedQuery(PagedConfig{
		Config: Config{
			Runner: m,
			Bus:    syncbus.New(),
			Query:  query.New("transactions"),
		},
		PageCount: 3,
	})
	ctx := context.Background()
	require.NoError(t, pq.Run(ctx))

	// no order on the query and no fallback: programmer error
	require.ErrorIs(t, pq.RefetchUpToRow(ctx, "t05", query.Order{}), ErrNoOrderField)

	// fallback order applies when the query has none
	require.NoError(t, pq.RefetchUpToRow(ctx, "t05", query.Order{Field: "amount"}))
	require.Len(t, pq.Data(), 8)
}

func TestOptimisticUpdateAdjustsTotalCount(t *testing.T) {
	t.Parallel()

	m := &memRunner{rows: txRows(6)}
	pq := NewPagedQuery(PagedConfig{
		Config: Config{
			Runner: m,
			Bus:    syncbus.New(),
			Query:  query.New("transactions").OrderBy("amount", query.Asc),
		},
		PageCount: 10,
	})
	ctx := context.Background()

	require.NoError(t, pq.Run(ctx))
	require.Eventually(t, func() bool { return pq.TotalCount() == 6 }, 2*time.Second, 10*time.Millisecond)

	pq.OptimisticUpdate(func(data []query.Row) []query.Row {
		return append(data, query.Row{"id": "t99", "amount": int64(99)})
	})
	require.Equal(t, 7, pq.TotalCount())

	pq.OptimisticUpdate(func(data []query.Row) []query.Row {
		return data[:len(data)-2]
	})
	require.Equal(t, 5, pq.TotalCount())
}
