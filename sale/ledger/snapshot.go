package ledger

import (
	"bytes"
	"math/big"
	"sort"

	"vestd/sale"
)

// AddedSnapshot captures one day's added counters.
type AddedSnapshot struct {
	Day   uint64
	Delta DayDelta
}

// AccountSnapshot captures everything the ledger holds for one account.
type AccountSnapshot struct {
	Addr            sale.Address
	Units           []Checkpoint
	ReferralUnits   []Checkpoint
	ClaimedBuyer    *big.Int
	ClaimedReferrer *big.Int
}

// Snapshot is a deterministic deep copy of the full ledger state, used by the
// persistence layer. Added entries are sorted by day and accounts by address.
type Snapshot struct {
	Start     int64
	Policy    DenominatorPolicy
	Finalized []FinalizedDay
	Added     []AddedSnapshot
	Accounts  []AccountSnapshot
}

// Snapshot extracts the current state.
func (l *Ledger) Snapshot() *Snapshot {
	snap := &Snapshot{
		Start:     l.start,
		Policy:    l.policy,
		Finalized: make([]FinalizedDay, len(l.finalized)),
	}
	for i, day := range l.finalized {
		snap.Finalized[i] = day.Clone()
	}
	days := make([]uint64, 0, len(l.added))
	for day := range l.added {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	for _, day := range days {
		snap.Added = append(snap.Added, AddedSnapshot{Day: day, Delta: l.added[day].Clone()})
	}
	seen := make(map[sale.Address]struct{})
	addrs := make([]sale.Address, 0, len(l.units))
	collect := func(addr sale.Address) {
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			addrs = append(addrs, addr)
		}
	}
	for addr := range l.units {
		collect(addr)
	}
	for addr := range l.refUnits {
		collect(addr)
	}
	for addr := range l.claimed {
		collect(addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	for _, addr := range addrs {
		snap.Accounts = append(snap.Accounts, AccountSnapshot{
			Addr:            addr,
			Units:           l.units[addr].Entries(),
			ReferralUnits:   l.refUnits[addr].Entries(),
			ClaimedBuyer:    l.ClaimedAmount(addr, sale.PoolBuyer),
			ClaimedReferrer: l.ClaimedAmount(addr, sale.PoolReferrer),
		})
	}
	return snap
}

// FromSnapshot rebuilds a ledger from persisted state.
func FromSnapshot(snap *Snapshot) (*Ledger, error) {
	l := NewLedger(snap.Start, snap.Policy)
	l.finalized = make([]FinalizedDay, len(snap.Finalized))
	for i, day := range snap.Finalized {
		if day.CumUnits == nil || day.CumReferralUnits == nil || day.BuyerPerUnit == nil || day.ReferrerPerUnit == nil {
			return nil, sale.ErrStateCorrupt
		}
		l.finalized[i] = day.Clone()
	}
	for _, added := range snap.Added {
		if added.Delta.Units == nil || added.Delta.ReferralUnits == nil {
			return nil, sale.ErrStateCorrupt
		}
		delta := added.Delta.Clone()
		l.added[added.Day] = &delta
	}
	for _, account := range snap.Accounts {
		if len(account.Units) > 0 {
			series, err := RestoreSeries(account.Units)
			if err != nil {
				return nil, err
			}
			l.units[account.Addr] = series
		}
		if len(account.ReferralUnits) > 0 {
			series, err := RestoreSeries(account.ReferralUnits)
			if err != nil {
				return nil, err
			}
			l.refUnits[account.Addr] = series
		}
		claims := make(map[sale.Pool]*big.Int)
		if account.ClaimedBuyer != nil && account.ClaimedBuyer.Sign() > 0 {
			claims[sale.PoolBuyer] = new(big.Int).Set(account.ClaimedBuyer)
		}
		if account.ClaimedReferrer != nil && account.ClaimedReferrer.Sign() > 0 {
			claims[sale.PoolReferrer] = new(big.Int).Set(account.ClaimedReferrer)
		}
		if len(claims) > 0 {
			l.claimed[account.Addr] = claims
		}
	}
	return l, nil
}
