package ledger

import (
	"math/big"
	"sort"

	"vestd/sale"
)

// Checkpoint records the cumulative value owned by an account as of a day.
type Checkpoint struct {
	Day   uint64
	Value *big.Int
}

// Series is an ordered per-account checkpoint list. Queries return the most
// recent checkpoint at or before the requested day; days before the first
// checkpoint read as zero.
type Series struct {
	entries []Checkpoint
}

// ValueAt returns the cumulative value as of the given day.
func (s *Series) ValueAt(day uint64) *big.Int {
	if s == nil || len(s.entries) == 0 {
		return new(big.Int)
	}
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Day > day
	})
	if idx == 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(s.entries[idx-1].Value)
}

// Latest returns the most recent cumulative value, or zero for an empty
// series.
func (s *Series) Latest() *big.Int {
	if s == nil || len(s.entries) == 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(s.entries[len(s.entries)-1].Value)
}

// Apply adds delta to the cumulative value from the given day onward. An
// existing checkpoint for the day is updated in place; otherwise one is
// inserted. Checkpoints after the day are shifted by the same delta so the
// series stays cumulative. Fails without mutating when any value in the
// series would go negative.
func (s *Series) Apply(day uint64, delta *big.Int) error {
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Day >= day
	})
	exists := idx < len(s.entries) && s.entries[idx].Day == day
	if delta.Sign() < 0 {
		base := new(big.Int)
		if exists {
			base.Set(s.entries[idx].Value)
		} else if idx > 0 {
			base.Set(s.entries[idx-1].Value)
		}
		if new(big.Int).Add(base, delta).Sign() < 0 {
			return sale.ErrInsufficientUnits
		}
		for i := idx; i < len(s.entries); i++ {
			if new(big.Int).Add(s.entries[i].Value, delta).Sign() < 0 {
				return sale.ErrInsufficientUnits
			}
		}
	}
	if exists {
		s.entries[idx].Value = new(big.Int).Add(s.entries[idx].Value, delta)
	} else {
		prior := new(big.Int)
		if idx > 0 {
			prior.Set(s.entries[idx-1].Value)
		}
		s.entries = append(s.entries, Checkpoint{})
		copy(s.entries[idx+1:], s.entries[idx:])
		s.entries[idx] = Checkpoint{Day: day, Value: prior.Add(prior, delta)}
	}
	for i := idx + 1; i < len(s.entries); i++ {
		s.entries[i].Value = new(big.Int).Add(s.entries[i].Value, delta)
	}
	return nil
}

// Entries returns a deep copy of the checkpoint list.
func (s *Series) Entries() []Checkpoint {
	if s == nil {
		return nil
	}
	out := make([]Checkpoint, len(s.entries))
	for i, entry := range s.entries {
		out[i] = Checkpoint{Day: entry.Day, Value: new(big.Int).Set(entry.Value)}
	}
	return out
}

// RestoreSeries rebuilds a series from persisted checkpoints. Entries must be
// sorted by day with non-negative values.
func RestoreSeries(entries []Checkpoint) (*Series, error) {
	s := &Series{entries: make([]Checkpoint, len(entries))}
	var prevDay uint64
	for i, entry := range entries {
		if entry.Value == nil || entry.Value.Sign() < 0 {
			return nil, sale.ErrStateCorrupt
		}
		if i > 0 && entry.Day <= prevDay {
			return nil, sale.ErrStateCorrupt
		}
		prevDay = entry.Day
		s.entries[i] = Checkpoint{Day: entry.Day, Value: new(big.Int).Set(entry.Value)}
	}
	return s, nil
}
