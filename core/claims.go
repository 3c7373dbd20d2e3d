package core

import (
	"math/big"

	"vestd/observability"
	"vestd/sale"
)

// PreviewClaimable answers "how much would the account hold at ts" without
// mutating state. The figure equals what Claim would see once Advance
// finalizes through day(ts).
func (n *Node) PreviewClaimable(account sale.Address, ts int64, pool sale.Pool) (*big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !pool.Valid() {
		return nil, sale.ErrInvalidPool
	}
	accrued := n.led.PreviewClaimable(account, ts, pool, n.sched)
	return accrued.Sub(accrued, n.led.ClaimedAmount(account, pool)), nil
}

// BalanceAtDay returns the account's owned units as of the given day.
func (n *Node) BalanceAtDay(account sale.Address, day uint64) *big.Int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.led.BalanceAtDay(account, day)
}

// ReferralUnitsAtDay returns the account's referral-attributed units as of
// the given day.
func (n *Node) ReferralUnitsAtDay(account sale.Address, day uint64) *big.Int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.led.ReferralUnitsAtDay(account, day)
}

// Claim pays out the account's accrued-but-unclaimed amount for the pool,
// floored to the payout quantum.
func (n *Node) Claim(account sale.Address, pool sale.Pool) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !pool.Valid() {
		return nil, sale.ErrInvalidPool
	}
	paid, err := n.led.Claim(account, pool, n.cfg.PayoutQuantum)
	if err != nil {
		return nil, err
	}
	if err := n.persistAccount(account); err != nil {
		n.led.RevertClaim(account, pool, paid)
		return nil, err
	}
	n.emit(sale.EventClaimed, map[string]string{
		"account": account.Hex(),
		"pool":    pool.String(),
		"paid":    paid.String(),
	})
	observability.Sale().ClaimPaid(pool.String(), paid)
	n.recordClaimAudit(AuditClaim{Account: account, Pool: pool.String(), Paid: new(big.Int).Set(paid), OccurredAt: n.now()})
	return paid, nil
}

// ClaimBuyback pays out the account's full buyback balance and zeroes it.
func (n *Node) ClaimBuyback(account sale.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	paid, err := n.refs.ClaimBuyback(account)
	if err != nil {
		return nil, err
	}
	if err := n.persistAccount(account); err != nil {
		n.refs.RestoreBalance(account, paid)
		return nil, err
	}
	n.emit(sale.EventBuybackClaimed, map[string]string{
		"account": account.Hex(),
		"paid":    paid.String(),
	})
	observability.Sale().ClaimPaid("buyback", paid)
	n.recordClaimAudit(AuditClaim{Account: account, Pool: "buyback", Paid: new(big.Int).Set(paid), OccurredAt: n.now()})
	return paid, nil
}

// BuybackBalance returns the account's unclaimed buyback balance.
func (n *Node) BuybackBalance(account sale.Address) *big.Int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.refs.BuybackBalance(account)
}
