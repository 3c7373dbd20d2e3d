package schedule

import (
	"fmt"
	"math/big"

	"vestd/sale"
	"vestd/sale/ledger"
)

// Tranche is one dated segment of the distribution schedule. End is the
// inclusive unix timestamp at which the tranche stops accruing; the pools are
// the total reward budgets spread evenly across the tranche's days.
type Tranche struct {
	End          int64
	BuyerPool    *big.Int
	ReferrerPool *big.Int
}

// Schedule holds the ordered tranche list. It is set exactly once and
// immutable afterwards.
type Schedule struct {
	start    int64
	tranches []Tranche
	// endDay[i] is the last day index covered by tranche i.
	endDays []uint64
}

// New constructs an empty schedule anchored at the program start timestamp.
func New(start int64) *Schedule {
	return &Schedule{start: start}
}

// Initialized reports whether the tranche list has been set.
func (s *Schedule) Initialized() bool {
	return len(s.tranches) > 0
}

// Initialize sets the tranche list. The three slices must be the same
// non-zero length, ends must be strictly increasing, and every end must fall
// after the program start. A second call fails.
func (s *Schedule) Initialize(ends []int64, buyerPools, referrerPools []*big.Int) error {
	if s.Initialized() {
		return sale.ErrScheduleInit
	}
	if len(ends) == 0 {
		return fmt.Errorf("%w: no tranches", sale.ErrScheduleInvalid)
	}
	if len(ends) != len(buyerPools) || len(ends) != len(referrerPools) {
		return fmt.Errorf("%w: length mismatch", sale.ErrScheduleInvalid)
	}
	tranches := make([]Tranche, len(ends))
	endDays := make([]uint64, len(ends))
	for i, end := range ends {
		if end <= s.start {
			return fmt.Errorf("%w: end %d <= start", sale.ErrScheduleInvalid, i)
		}
		if i > 0 && end <= ends[i-1] {
			return fmt.Errorf("%w: ends not increasing at %d", sale.ErrScheduleInvalid, i)
		}
		if buyerPools[i] == nil || buyerPools[i].Sign() < 0 {
			return fmt.Errorf("%w: buyer pool %d negative", sale.ErrScheduleInvalid, i)
		}
		if referrerPools[i] == nil || referrerPools[i].Sign() < 0 {
			return fmt.Errorf("%w: referrer pool %d negative", sale.ErrScheduleInvalid, i)
		}
		tranches[i] = Tranche{
			End:          end,
			BuyerPool:    new(big.Int).Set(buyerPools[i]),
			ReferrerPool: new(big.Int).Set(referrerPools[i]),
		}
		endDays[i] = ledger.DayIndex(s.start, end)
	}
	s.tranches = tranches
	s.endDays = endDays
	return nil
}

// PoolPerDay resolves the tranche covering the given day and returns its
// per-day buyer and referrer pool amounts (tranche total divided by tranche
// length in days, integer division). Days beyond the last tranche accrue
// nothing.
func (s *Schedule) PoolPerDay(day uint64) (*big.Int, *big.Int) {
	if !s.Initialized() {
		return new(big.Int), new(big.Int)
	}
	var firstDay uint64
	for i, endDay := range s.endDays {
		if day <= endDay {
			length := endDay - firstDay + 1
			lengthBig := new(big.Int).SetUint64(length)
			buyer := new(big.Int).Quo(s.tranches[i].BuyerPool, lengthBig)
			referrer := new(big.Int).Quo(s.tranches[i].ReferrerPool, lengthBig)
			return buyer, referrer
		}
		firstDay = endDay + 1
	}
	return new(big.Int), new(big.Int)
}

// Tranches returns a deep copy of the tranche list.
func (s *Schedule) Tranches() []Tranche {
	out := make([]Tranche, len(s.tranches))
	for i, tranche := range s.tranches {
		out[i] = Tranche{
			End:          tranche.End,
			BuyerPool:    new(big.Int).Set(tranche.BuyerPool),
			ReferrerPool: new(big.Int).Set(tranche.ReferrerPool),
		}
	}
	return out
}

// FinalDay returns the last accruing day index, or false when the schedule is
// not initialized.
func (s *Schedule) FinalDay() (uint64, bool) {
	if !s.Initialized() {
		return 0, false
	}
	return s.endDays[len(s.endDays)-1], true
}
