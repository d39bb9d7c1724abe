package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildersDoNotMutateReceiver(t *testing.T) {
	t.Parallel()

	base := New("transactions").Filter(map[string]any{"account": "a"})
	paged := base.Limit(10).Offset(20)
	ordered := base.OrderBy("date", Desc)

	_, ok := base.LimitValue()
	require.False(t, ok)
	require.Empty(t, base.OrderSpecs())

	limit, ok := paged.LimitValue()
	require.True(t, ok)
	require.Equal(t, 10, limit)
	offset, ok := paged.OffsetValue()
	require.True(t, ok)
	require.Equal(t, 20, offset)

	require.Equal(t, []Order{{Field: "date", Dir: Desc}}, ordered.OrderSpecs())
	require.Equal(t, base.Conds(), paged.Conds())
}

func TestFilterNormalization(t *testing.T) {
	t.Parallel()

	q := New("transactions").Filter(map[string]any{
		"amount":  map[string]any{"$gte": 500, "$lt": 1000},
		"account": "a",
	})
	require.Equal(t, []Cond{
		{Field: "account", Op: "$eq", Value: "a"},
		{Field: "amount", Op: "$gte", Value: 500},
		{Field: "amount", Op: "$lt", Value: 1000},
	}, q.Conds())
}

func TestUnpagedDropsWindow(t *testing.T) {
	t.Parallel()

	q := New("transactions").Limit(5).Offset(10).Unpaged()
	_, ok := q.LimitValue()
	require.False(t, ok)
	_, ok = q.OffsetValue()
	require.False(t, ok)
}

func TestSerializeIsStable(t *testing.T) {
	t.Parallel()

	build := func() *Query {
		return New("transactions").
			Filter(map[string]any{"account": "a", "amount": map[string]any{"$gte": 100}}).
			OrderBy("date", Asc).
			Limit(50)
	}
	require.Equal(t, build().Serialize(), build().Serialize())
}
