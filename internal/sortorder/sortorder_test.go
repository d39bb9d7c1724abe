package sortorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestGenerateRoundTrip(t *testing.T) {
	t.Parallel()

	dates := []string{"1995-01-01", "2024-01-15", "2024-12-31", "2099-12-31"}
	seqs := []int64{0, 1, 500, MaxSeq}
	for _, d := range dates {
		for _, s := range seqs {
			key, err := Generate(d, s)
			require.NoError(t, err)
			require.Equal(t, s, ExtractSeq(key), "seq round trip for %s/%d", d, s)
			repr, err := DateRepr(d)
			require.NoError(t, err)
			require.Equal(t, repr, ExtractDateInt(key), "date round trip for %s/%d", d, s)
			require.False(t, IsLegacyTimestamp(key))
		}
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := Generate("2024-01-15", -1)
	require.Error(t, err)
	_, err = Generate("2024-01-15", MaxSeq+1)
	require.Error(t, err)
	_, err = Generate("15/01/2024", 1)
	require.Error(t, err)
	_, err = Generate("2024-02-30", 1)
	require.Error(t, err)
	_, err = Generate("", 1)
	require.Error(t, err)
}

func TestLegacyDetection(t *testing.T) {
	t.Parallel()

	now := time.Now().UnixMilli()
	require.True(t, IsLegacyTimestamp(now))
	require.Equal(t, now, ExtractSeq(now))
	require.Equal(t, int64(0), ExtractDateInt(now))

	key, err := Generate("2024-01-15", 1)
	require.NoError(t, err)
	require.False(t, IsLegacyTimestamp(key))

	// negative keys order split children and are always new-format
	require.False(t, IsLegacyTimestamp(-1))
	require.False(t, IsLegacyTimestamp(-now))
}

func TestNextSeqForDate(t *testing.T) {
	t.Parallel()

	k1, _ := Generate("2024-03-01", 3)
	k2, _ := Generate("2024-03-02", 9)
	legacy := time.Now().UnixMilli()
	rows := []Row{
		{Date: "2024-03-01", SortOrder: i64(k1)},
		{Date: "2024-03-02", SortOrder: i64(k2)},
		{Date: "2024-03-01", SortOrder: i64(legacy)},
		{Date: "2024-03-01", SortOrder: nil},
	}

	seq, atLimit, err := NextSeqForDate("2024-03-01", rows)
	require.NoError(t, err)
	require.False(t, atLimit)
	require.Equal(t, int64(4), seq)

	// no rows on the date yet
	seq, atLimit, err = NextSeqForDate("2024-03-05", rows)
	require.NoError(t, err)
	require.False(t, atLimit)
	require.Equal(t, int64(1), seq)

	_, _, err = NextSeqForDate("bogus", nil)
	require.Error(t, err)
}

func TestNextSeqForDateSaturates(t *testing.T) {
	t.Parallel()

	k, _ := Generate("2024-03-01", MaxSeq)
	seq, atLimit, err := NextSeqForDate("2024-03-01", []Row{{Date: "2024-03-01", SortOrder: i64(k)}})
	require.NoError(t, err)
	require.True(t, atLimit)
	require.Equal(t, int64(MaxSeq), seq)

	// the last free slot is not itself at the limit
	k2, _ := Generate("2024-03-02", MaxSeq-1)
	seq, atLimit, err = NextSeqForDate("2024-03-02", []Row{{Date: "2024-03-02", SortOrder: i64(k2)}})
	require.NoError(t, err)
	require.False(t, atLimit)
	require.Equal(t, int64(MaxSeq), seq)
}

func TestAssignBatchFreshDate(t *testing.T) {
	t.Parallel()

	add := []Row{{Date: "2024-06-10"}, {Date: "2024-06-10"}, {Date: "2024-06-10"}}
	got, err := AssignBatch(add, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, a := range got {
		want, err := Generate("2024-06-10", int64(i+1))
		require.NoError(t, err)
		require.Equal(t, want, a.SortOrder)
		require.False(t, a.SeqAtLimit)
	}
	require.Less(t, got[0].SortOrder, got[1].SortOrder)
	require.Less(t, got[1].SortOrder, got[2].SortOrder)
}

func TestAssignBatchSeedsFromExisting(t *testing.T) {
	t.Parallel()

	k, _ := Generate("2024-06-10", 7)
	existing := []Row{{Date: "2024-06-10", SortOrder: i64(k)}}
	add := []Row{{Date: "2024-06-10"}, {Date: "2024-06-11"}}
	got, err := AssignBatch(add, existing)
	require.NoError(t, err)

	want0, _ := Generate("2024-06-10", 8)
	want1, _ := Generate("2024-06-11", 1)
	require.Equal(t, want0, got[0].SortOrder)
	require.Equal(t, want1, got[1].SortOrder)
}

func TestAssignBatchSaturation(t *testing.T) {
	t.Parallel()

	k, _ := Generate("2024-06-10", MaxSeq-1)
	existing := []Row{{Date: "2024-06-10", SortOrder: i64(k)}}
	add := []Row{{Date: "2024-06-10"}, {Date: "2024-06-10"}, {Date: "2024-06-10"}}
	got, err := AssignBatch(add, existing)
	require.NoError(t, err)

	sat, _ := Generate("2024-06-10", MaxSeq)
	require.Equal(t, sat, got[0].SortOrder)
	require.False(t, got[0].SeqAtLimit)
	for _, a := range got[1:] {
		require.Equal(t, sat, a.SortOrder)
		require.True(t, a.SeqAtLimit)
	}
}
