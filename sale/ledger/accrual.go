package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"vestd/sale"
)

// DenominatorPolicy selects the cumulative total dividing the day-zero pool.
// Days one and later always divide by the previous day's frozen cumulative.
type DenominatorPolicy uint8

const (
	// PolicySameDay divides day zero's pool by day zero's own cumulative,
	// so day-zero purchases earn reward on day zero itself.
	PolicySameDay DenominatorPolicy = iota
	// PolicyPriorDay divides day zero's pool by the (empty) prior
	// cumulative, making day zero's reward-per-unit zero.
	PolicyPriorDay
)

func (p DenominatorPolicy) String() string {
	switch p {
	case PolicySameDay:
		return "same-day"
	case PolicyPriorDay:
		return "prior-day"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration string to a denominator policy.
func ParsePolicy(raw string) (DenominatorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "same-day":
		return PolicySameDay, nil
	case "prior-day":
		return PolicyPriorDay, nil
	default:
		return 0, fmt.Errorf("unknown denominator policy %q", raw)
	}
}

// PoolSource resolves the per-day buyer and referrer pool amounts for a day.
type PoolSource interface {
	PoolPerDay(day uint64) (*big.Int, *big.Int)
}

// DayDelta accumulates the units added with a given effective day. It is
// mutable until the day finalizes.
type DayDelta struct {
	Units         *big.Int
	ReferralUnits *big.Int
}

func newDayDelta() *DayDelta {
	return &DayDelta{Units: new(big.Int), ReferralUnits: new(big.Int)}
}

// Clone returns a deep copy of the delta.
func (d *DayDelta) Clone() DayDelta {
	if d == nil {
		return DayDelta{Units: new(big.Int), ReferralUnits: new(big.Int)}
	}
	return DayDelta{
		Units:         new(big.Int).Set(d.Units),
		ReferralUnits: new(big.Int).Set(d.ReferralUnits),
	}
}

// FinalizedDay is the frozen outcome of finalizing one day.
type FinalizedDay struct {
	CumUnits         *big.Int
	CumReferralUnits *big.Int
	BuyerPerUnit     *big.Int
	ReferrerPerUnit  *big.Int
}

// Clone returns a deep copy of the record.
func (f FinalizedDay) Clone() FinalizedDay {
	return FinalizedDay{
		CumUnits:         new(big.Int).Set(f.CumUnits),
		CumReferralUnits: new(big.Int).Set(f.CumReferralUnits),
		BuyerPerUnit:     new(big.Int).Set(f.BuyerPerUnit),
		ReferrerPerUnit:  new(big.Int).Set(f.ReferrerPerUnit),
	}
}

// DayOutcome pairs a finalized day with its index, reported by Advance.
type DayOutcome struct {
	Day    uint64
	Result FinalizedDay
}

// finalizeDay computes the frozen figures for one day from the day's added
// counters, the prior cumulative totals, and the day's pool amounts. Both
// Advance and the preview path call this one function, so a preview computed
// before finalization equals the value finalization later commits.
func finalizeDay(day uint64, policy DenominatorPolicy, added DayDelta, priorCum, priorRefCum, buyerPool, referrerPool *big.Int) FinalizedDay {
	cum := new(big.Int).Add(priorCum, added.Units)
	refCum := new(big.Int).Add(priorRefCum, added.ReferralUnits)

	buyerDenom := priorCum
	referrerDenom := priorRefCum
	if day == 0 && policy == PolicySameDay {
		buyerDenom = cum
		referrerDenom = refCum
	}

	// Integer division: the truncated remainder is operator dust, never
	// owed back to participants.
	buyerPerUnit := new(big.Int)
	if buyerDenom.Sign() > 0 {
		buyerPerUnit.Quo(buyerPool, buyerDenom)
	}
	referrerPerUnit := new(big.Int)
	if referrerDenom.Sign() > 0 {
		referrerPerUnit.Quo(referrerPool, referrerDenom)
	}
	return FinalizedDay{
		CumUnits:         cum,
		CumReferralUnits: refCum,
		BuyerPerUnit:     buyerPerUnit,
		ReferrerPerUnit:  referrerPerUnit,
	}
}

// weightDay returns the checkpoint day whose balance earns day's
// reward-per-unit. It always matches the denominator day used by
// finalizeDay so individual weights sum to the global denominator.
func weightDay(day uint64) uint64 {
	if day == 0 {
		return 0
	}
	return day - 1
}

// Ledger is the accrual state machine: per-day added counters, frozen
// per-day results, per-account checkpoint series, and claimed totals. Days
// finalize strictly in order and are immutable afterwards.
type Ledger struct {
	start  int64
	policy DenominatorPolicy

	finalized []FinalizedDay
	added     map[uint64]*DayDelta

	units    map[sale.Address]*Series
	refUnits map[sale.Address]*Series

	claimed map[sale.Address]map[sale.Pool]*big.Int
}

// NewLedger constructs an empty ledger anchored at the program start.
func NewLedger(start int64, policy DenominatorPolicy) *Ledger {
	return &Ledger{
		start:    start,
		policy:   policy,
		added:    make(map[uint64]*DayDelta),
		units:    make(map[sale.Address]*Series),
		refUnits: make(map[sale.Address]*Series),
		claimed:  make(map[sale.Address]map[sale.Pool]*big.Int),
	}
}

// Start returns the program start timestamp.
func (l *Ledger) Start() int64 {
	return l.start
}

// Policy returns the configured denominator policy.
func (l *Ledger) Policy() DenominatorPolicy {
	return l.policy
}

// LastFinalizedDay returns the number of finalized days; all days below it
// are frozen.
func (l *Ledger) LastFinalizedDay() uint64 {
	return uint64(len(l.finalized))
}

// CurrentDay returns the day index for the given timestamp.
func (l *Ledger) CurrentDay(now int64) uint64 {
	return DayIndex(l.start, now)
}

// AddedAt returns a copy of the added counters for a day.
func (l *Ledger) AddedAt(day uint64) DayDelta {
	return l.added[day].Clone()
}

func (l *Ledger) seriesFor(pool sale.Pool, addr sale.Address) *Series {
	switch pool {
	case sale.PoolReferrer:
		return l.refUnits[addr]
	default:
		return l.units[addr]
	}
}

func (l *Ledger) ensureSeries(pool sale.Pool, addr sale.Address) *Series {
	var m map[sale.Address]*Series
	if pool == sale.PoolReferrer {
		m = l.refUnits
	} else {
		m = l.units
	}
	s, ok := m[addr]
	if !ok {
		s = &Series{}
		m[addr] = s
	}
	return s
}

// RecordPurchase credits quantity units to the buyer from effectiveDay and,
// when a referrer is present, the same quantity of referral-attributed units
// to the referrer. Fails when the effective day is already finalized.
func (l *Ledger) RecordPurchase(buyer sale.Address, referrer *sale.Address, quantity uint64, effectiveDay uint64) error {
	if quantity == 0 {
		return sale.ErrZeroQuantity
	}
	if effectiveDay < l.LastFinalizedDay() {
		return fmt.Errorf("%w: day %d < %d", sale.ErrDayFinalized, effectiveDay, l.LastFinalizedDay())
	}
	delta := new(big.Int).SetUint64(quantity)
	if err := l.ensureSeries(sale.PoolBuyer, buyer).Apply(effectiveDay, delta); err != nil {
		return err
	}
	if referrer != nil {
		if err := l.ensureSeries(sale.PoolReferrer, *referrer).Apply(effectiveDay, delta); err != nil {
			return err
		}
	}
	added, ok := l.added[effectiveDay]
	if !ok {
		added = newDayDelta()
		l.added[effectiveDay] = added
	}
	added.Units.Add(added.Units, delta)
	if referrer != nil {
		added.ReferralUnits.Add(added.ReferralUnits, delta)
	}
	return nil
}

// RevertPurchase backs out a purchase recorded earlier in the same
// operation, used when persisting it failed. The deltas were just applied,
// so the negations cannot underflow.
func (l *Ledger) RevertPurchase(buyer sale.Address, referrer *sale.Address, quantity uint64, effectiveDay uint64) {
	debit := new(big.Int).Neg(new(big.Int).SetUint64(quantity))
	_ = l.seriesFor(sale.PoolBuyer, buyer).Apply(effectiveDay, debit)
	if referrer != nil {
		_ = l.seriesFor(sale.PoolReferrer, *referrer).Apply(effectiveDay, debit)
	}
	if added, ok := l.added[effectiveDay]; ok {
		added.Units.Add(added.Units, debit)
		if referrer != nil {
			added.ReferralUnits.Add(added.ReferralUnits, debit)
		}
	}
}

// Transfer moves owned units between accounts from the given day onward.
// History before the day is untouched; the sender must hold the quantity at
// that day net of any earlier same-day transfers.
func (l *Ledger) Transfer(from, to sale.Address, quantity uint64, day uint64) error {
	if quantity == 0 {
		return sale.ErrZeroQuantity
	}
	if day < l.LastFinalizedDay() {
		return fmt.Errorf("%w: day %d < %d", sale.ErrDayFinalized, day, l.LastFinalizedDay())
	}
	delta := new(big.Int).SetUint64(quantity)
	debit := new(big.Int).Neg(delta)
	sender := l.seriesFor(sale.PoolBuyer, from)
	if sender == nil {
		return sale.ErrInsufficientUnits
	}
	if err := sender.Apply(day, debit); err != nil {
		return err
	}
	if err := l.ensureSeries(sale.PoolBuyer, to).Apply(day, delta); err != nil {
		// The credit of a positive delta cannot fail; restore on the
		// off chance it does.
		_ = sender.Apply(day, delta)
		return err
	}
	return nil
}

// Advance finalizes up to maxDays fully-elapsed days in order, freezing each
// day's reward-per-unit and cumulative totals. Calling with no eligible days
// is a no-op.
func (l *Ledger) Advance(now int64, maxDays uint64, pools PoolSource) []DayOutcome {
	var outcomes []DayOutcome
	for steps := uint64(0); steps < maxDays; steps++ {
		day := l.LastFinalizedDay()
		if now < EndOfDay(l.start, day) {
			break
		}
		priorCum, priorRefCum := l.priorCumulative(day)
		buyerPool, referrerPool := pools.PoolPerDay(day)
		result := finalizeDay(day, l.policy, l.AddedAt(day), priorCum, priorRefCum, buyerPool, referrerPool)
		l.finalized = append(l.finalized, result)
		outcomes = append(outcomes, DayOutcome{Day: day, Result: result.Clone()})
	}
	return outcomes
}

// Rewind drops finalized days back down to count. Only an advance whose
// persistence failed may rewind, and only the days it appended itself.
func (l *Ledger) Rewind(count uint64) {
	if count < l.LastFinalizedDay() {
		l.finalized = l.finalized[:count]
	}
}

func (l *Ledger) priorCumulative(day uint64) (*big.Int, *big.Int) {
	if day == 0 {
		return new(big.Int), new(big.Int)
	}
	prev := l.finalized[day-1]
	return new(big.Int).Set(prev.CumUnits), new(big.Int).Set(prev.CumReferralUnits)
}

// BalanceAtDay returns the account's owned units as of the given day.
func (l *Ledger) BalanceAtDay(addr sale.Address, day uint64) *big.Int {
	return l.seriesFor(sale.PoolBuyer, addr).ValueAt(day)
}

// ReferralUnitsAtDay returns the account's referral-attributed units as of
// the given day.
func (l *Ledger) ReferralUnitsAtDay(addr sale.Address, day uint64) *big.Int {
	return l.seriesFor(sale.PoolReferrer, addr).ValueAt(day)
}

// UnitEntries returns the account's owned-units checkpoint list.
func (l *Ledger) UnitEntries(addr sale.Address) []Checkpoint {
	return l.seriesFor(sale.PoolBuyer, addr).Entries()
}

// ReferralEntries returns the account's referral-units checkpoint list.
func (l *Ledger) ReferralEntries(addr sale.Address) []Checkpoint {
	return l.seriesFor(sale.PoolReferrer, addr).Entries()
}

// FinalizedAt returns the frozen record for a finalized day.
func (l *Ledger) FinalizedAt(day uint64) (FinalizedDay, bool) {
	if day >= l.LastFinalizedDay() {
		return FinalizedDay{}, false
	}
	return l.finalized[day].Clone(), true
}

// PreviewClaimable re-derives, without mutating state, the account's accrued
// amount for the pool through the day before day(ts): frozen days use their
// committed figures, pending days are computed with the same finalizeDay
// arithmetic Advance will later commit.
func (l *Ledger) PreviewClaimable(addr sale.Address, ts int64, pool sale.Pool, pools PoolSource) *big.Int {
	target := DayIndex(l.start, ts)
	series := l.seriesFor(pool, addr)
	total := new(big.Int)
	cum := new(big.Int)
	refCum := new(big.Int)
	for day := uint64(0); day < target; day++ {
		var result FinalizedDay
		if day < l.LastFinalizedDay() {
			result = l.finalized[day]
		} else {
			buyerPool, referrerPool := pools.PoolPerDay(day)
			result = finalizeDay(day, l.policy, l.AddedAt(day), cum, refCum, buyerPool, referrerPool)
		}
		perUnit := result.BuyerPerUnit
		if pool == sale.PoolReferrer {
			perUnit = result.ReferrerPerUnit
		}
		if perUnit.Sign() > 0 {
			weight := series.ValueAt(weightDay(day))
			if weight.Sign() > 0 {
				total.Add(total, new(big.Int).Mul(perUnit, weight))
			}
		}
		cum = result.CumUnits
		refCum = result.CumReferralUnits
	}
	return total
}

// AccruedThroughFinalized sums the account's earned amount for the pool over
// every finalized day.
func (l *Ledger) AccruedThroughFinalized(addr sale.Address, pool sale.Pool) *big.Int {
	series := l.seriesFor(pool, addr)
	total := new(big.Int)
	for day := uint64(0); day < l.LastFinalizedDay(); day++ {
		perUnit := l.finalized[day].BuyerPerUnit
		if pool == sale.PoolReferrer {
			perUnit = l.finalized[day].ReferrerPerUnit
		}
		if perUnit.Sign() == 0 {
			continue
		}
		weight := series.ValueAt(weightDay(day))
		if weight.Sign() > 0 {
			total.Add(total, new(big.Int).Mul(perUnit, weight))
		}
	}
	return total
}
