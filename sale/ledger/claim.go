package ledger

import (
	"math/big"

	"vestd/sale"
)

// ClaimedAmount returns the cumulative amount already paid to the account
// from the pool.
func (l *Ledger) ClaimedAmount(addr sale.Address, pool sale.Pool) *big.Int {
	pools, ok := l.claimed[addr]
	if !ok {
		return new(big.Int)
	}
	amount, ok := pools[pool]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(amount)
}

// Claimable returns the accrued-but-unclaimed amount for the account and
// pool as of the last finalized day, before payout flooring.
func (l *Ledger) Claimable(addr sale.Address, pool sale.Pool) *big.Int {
	accrued := l.AccruedThroughFinalized(addr, pool)
	return accrued.Sub(accrued, l.ClaimedAmount(addr, pool))
}

// Claim pays out the claimable amount floored to the payout quantum and
// records it as claimed. The floored remainder stays claimable later, since
// the claimed total tracks exactly what was paid. Fails when the floored
// amount is zero.
func (l *Ledger) Claim(addr sale.Address, pool sale.Pool, quantum *big.Int) (*big.Int, error) {
	payable := floorToQuantum(l.Claimable(addr, pool), quantum)
	if payable.Sign() <= 0 {
		return nil, sale.ErrNothingToClaim
	}
	pools, ok := l.claimed[addr]
	if !ok {
		pools = make(map[sale.Pool]*big.Int)
		l.claimed[addr] = pools
	}
	amount, ok := pools[pool]
	if !ok {
		amount = new(big.Int)
		pools[pool] = amount
	}
	amount.Add(amount, payable)
	return payable, nil
}

// RevertClaim removes a just-recorded payout from the claimed total, used
// when persisting the claim failed.
func (l *Ledger) RevertClaim(addr sale.Address, pool sale.Pool, paid *big.Int) {
	if paid == nil || paid.Sign() <= 0 {
		return
	}
	if pools, ok := l.claimed[addr]; ok {
		if amount, ok := pools[pool]; ok {
			amount.Sub(amount, paid)
		}
	}
}

// floorToQuantum truncates the amount down to a whole multiple of the payout
// quantum. A nil or sub-unit quantum leaves the amount untouched.
func floorToQuantum(amount, quantum *big.Int) *big.Int {
	if quantum == nil || quantum.Cmp(big.NewInt(1)) <= 0 {
		return amount
	}
	rem := new(big.Int).Mod(amount, quantum)
	return amount.Sub(amount, rem)
}
