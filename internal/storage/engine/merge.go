package engine

import (
	"fmt"
	"sort"

	"github.com/feedvault/feedvault/internal/errors"
	"github.com/feedvault/feedvault/internal/storage/types"
)

// TieBreak selects the winner when two rows carry the same timestamp.
type TieBreak int

const (
	// LastWins keeps the row with the highest sequence number.
	LastWins TieBreak = iota

	// FirstWins keeps the row with the lowest sequence number.
	FirstWins
)

// ParseTieBreak parses a tie-break policy string.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "last_wins":
		return LastWins, nil
	case "first_wins":
		return FirstWins, nil
	default:
		return LastWins, fmt.Errorf("unknown tie-break policy %q", s)
	}
}

// String returns the policy's config spelling.
func (t TieBreak) String() string {
	if t == FirstWins {
		return "first_wins"
	}
	return "last_wins"
}

// validateBatch checks every incoming row before anything is written.
// A single bad row rejects the whole batch.
func validateBatch(key types.SeriesKey, bars []types.Bar) error {
	v := errors.NewValidationErrors()
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			v.Add(fmt.Errorf("row %d (ts=%d): %w", i, bars[i].TimestampMs, err))
		}
	}
	if v.HasErrors() {
		return fmt.Errorf("series %s: %w: %w", key, errors.ErrSchemaViolation, v)
	}
	return nil
}

// maxSequence returns the highest sequence number among the given rows.
func maxSequence(bars []types.Bar) int64 {
	var max int64
	for i := range bars {
		if bars[i].Sequence > max {
			max = bars[i].Sequence
		}
	}
	return max
}

// assignSequences stamps fresh sequence numbers onto incoming rows in batch
// order, starting just above the highest existing sequence. Sequences carried
// on the incoming rows are discarded; only the store assigns them.
func assignSequences(incoming []types.Bar, maxExisting int64) {
	for i := range incoming {
		incoming[i].Sequence = maxExisting + int64(i) + 1
	}
}

// mergeRows merges existing and incoming rows into one series slice with
// unique, strictly ascending timestamps. Existing rows are assumed unique
// already. Returns the merged rows plus how many incoming rows displaced an
// existing row and how many lost a tie-break entirely.
func mergeRows(existing, incoming []types.Bar, tb TieBreak) (merged []types.Bar, replaced, discarded int) {
	type slot struct {
		bar      types.Bar
		incoming bool
	}

	byTs := make(map[int64]slot, len(existing)+len(incoming))
	for i := range existing {
		byTs[existing[i].TimestampMs] = slot{bar: existing[i]}
	}

	for i := range incoming {
		row := incoming[i]
		cur, ok := byTs[row.TimestampMs]
		if !ok {
			byTs[row.TimestampMs] = slot{bar: row, incoming: true}
			continue
		}

		wins := row.Sequence > cur.bar.Sequence
		if tb == FirstWins {
			wins = row.Sequence < cur.bar.Sequence
		}
		if !wins {
			discarded++
			continue
		}
		if !cur.incoming {
			replaced++
		} else {
			discarded++
		}
		byTs[row.TimestampMs] = slot{bar: row, incoming: true}
	}

	merged = make([]types.Bar, 0, len(byTs))
	for _, s := range byTs {
		merged = append(merged, s.bar)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].TimestampMs < merged[j].TimestampMs
	})

	return merged, replaced, discarded
}
