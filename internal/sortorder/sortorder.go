// Package sortorder allocates date-scoped ordering keys for transactions.
//
// A key packs a date and a per-date sequence number into one integer:
// YYYYMMDD * 100000 + seq. Same-day transactions keep their relative order
// by seq. Databases created before the key format existed hold plain
// millisecond timestamps; those are detected by range-checking the decoded
// date and passed through untouched.
package sortorder

import (
	"fmt"
	"time"
)

// MaxSeq is the largest per-date sequence number. Once a date saturates,
// further allocations on that date reuse MaxSeq and relative order among
// them is undefined.
const MaxSeq = 99999

const dateFactor = 100000

// Row is the slice of a transaction the allocator needs.
type Row struct {
	Date      string
	SortOrder *int64
}

// Assignment is the allocation result for one new row, parallel to input.
type Assignment struct {
	SortOrder  int64
	SeqAtLimit bool
}

// ValidateSeq reports whether seq is usable in a sort-order key.
func ValidateSeq(seq int64) error {
	if seq < 0 || seq > MaxSeq {
		return fmt.Errorf("sortorder: seq %d out of range [0, %d]", seq, MaxSeq)
	}
	return nil
}

// Generate builds a sort-order key for date (YYYY-MM-DD) and seq.
func Generate(date string, seq int64) (int64, error) {
	if err := ValidateSeq(seq); err != nil {
		return 0, err
	}
	repr, err := DateRepr(date)
	if err != nil {
		return 0, err
	}
	return repr*dateFactor + seq, nil
}

// DateRepr converts a YYYY-MM-DD date into its YYYYMMDD integer form.
func DateRepr(date string) (int64, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("sortorder: invalid date %q: %w", date, err)
	}
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day()), nil
}

// IsLegacyTimestamp reports whether v is a pre-migration millisecond
// timestamp rather than a packed key. Negative values are reserved for
// split-child sub-ordering and are never legacy.
func IsLegacyTimestamp(v int64) bool {
	if v < 0 {
		return false
	}
	d := v / dateFactor
	y := d / 10000
	m := d / 100 % 100
	day := d % 100
	return !(y >= 1995 && y <= 2099 && m >= 1 && m <= 12 && day >= 1 && day <= 31)
}

// ExtractSeq returns the sequence component of a key. Legacy timestamps
// are returned unchanged.
func ExtractSeq(v int64) int64 {
	if IsLegacyTimestamp(v) {
		return v
	}
	return v % dateFactor
}

// ExtractDateInt returns the YYYYMMDD component of a key, or 0 for legacy
// timestamps.
func ExtractDateInt(v int64) int64 {
	if IsLegacyTimestamp(v) {
		return 0
	}
	return v / dateFactor
}

// NextSeqForDate scans rows for the highest seq already used on date and
// returns the next free one. Rows without a sort order, legacy values and
// other dates are ignored. atLimit is set when the date is saturated.
func NextSeqForDate(date string, rows []Row) (seq int64, atLimit bool, err error) {
	repr, err := DateRepr(date)
	if err != nil {
		return 0, false, err
	}
	var maxSeq int64
	for _, r := range rows {
		if r.SortOrder == nil {
			continue
		}
		v := *r.SortOrder
		if IsLegacyTimestamp(v) || ExtractDateInt(v) != repr {
			continue
		}
		if s := ExtractSeq(v); s > maxSeq {
			maxSeq = s
		}
	}
	next := maxSeq + 1
	if next > MaxSeq {
		return MaxSeq, true, nil
	}
	return next, false, nil
}

// AssignBatch allocates keys for add in input order, one date counter per
// distinct date, seeded from the max seq observed in existing. Saturated
// dates keep handing out MaxSeq with SeqAtLimit set; relative order among
// saturated rows is undefined and deliberately left that way.
func AssignBatch(add []Row, existing []Row) ([]Assignment, error) {
	counters := make(map[string]int64)
	limits := make(map[string]bool)

	out := make([]Assignment, len(add))
	for i, r := range add {
		next, ok := counters[r.Date]
		if !ok {
			var atLimit bool
			var err error
			next, atLimit, err = NextSeqForDate(r.Date, existing)
			if err != nil {
				return nil, err
			}
			limits[r.Date] = atLimit
		}

		seq := next
		if seq > MaxSeq || limits[r.Date] {
			seq = MaxSeq
			limits[r.Date] = true
		}
		key, err := Generate(r.Date, seq)
		if err != nil {
			return nil, err
		}
		out[i] = Assignment{SortOrder: key, SeqAtLimit: limits[r.Date]}
		counters[r.Date] = seq + 1
	}
	return out, nil
}
