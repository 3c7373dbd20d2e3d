package core

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/google/uuid"

	"vestd/observability"
	"vestd/sale"
	"vestd/sale/ledger"
	"vestd/sale/referral"
)

// Quote prices a purchase of quantity units at the current cumulative sales
// index. An unknown referral code yields ErrQuoteUnavailable, which callers
// must surface as "no quote", never as a free purchase.
func (n *Node) Quote(quantity uint64, code string) (*big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if quantity == 0 {
		return nil, sale.ErrZeroQuantity
	}
	if code != "" {
		if _, ok := n.refs.Resolve(code); !ok {
			return new(big.Int), sale.ErrQuoteUnavailable
		}
	}
	return n.curve.Quote(n.unitsSold, quantity)
}

func (n *Node) resolveReferrer(buyer sale.Address, code string) (*sale.Address, error) {
	if code == "" {
		return nil, nil
	}
	normalized, err := referral.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	owner, ok := n.refs.Resolve(normalized)
	if !ok {
		return nil, fmt.Errorf("%w: %s", sale.ErrUnknownCode, normalized)
	}
	if owner == buyer {
		return nil, sale.ErrSelfReferral
	}
	return &owner, nil
}

// Purchase validates the payment against the live quote and records the
// purchase: buyer checkpoint, referral attribution, buyback credit, tier
// notification, audit row. It returns the day the units take effect.
func (n *Node) Purchase(account sale.Address, quantity uint64, code string, paid *big.Int) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.paused {
		return 0, sale.ErrPaused
	}
	if quantity == 0 {
		return 0, sale.ErrZeroQuantity
	}
	if paid == nil || paid.Sign() <= 0 {
		return 0, sale.ErrInvalidAmount
	}
	referrer, err := n.resolveReferrer(account, code)
	if err != nil {
		return 0, err
	}
	price, err := n.curve.Quote(n.unitsSold, quantity)
	if err != nil {
		return 0, err
	}
	if paid.Cmp(price) != 0 {
		return 0, fmt.Errorf("%w: paid %s, quoted %s", sale.ErrPaymentMismatch, paid, price)
	}
	now := n.now().Unix()
	effDay := ledger.EffectiveDay(n.cfg.Start, now)
	if err := n.led.RecordPurchase(account, referrer, quantity, effDay); err != nil {
		return 0, err
	}
	n.unitsSold += quantity
	var credited *big.Int
	if referrer != nil {
		credited = n.refs.CreditBuyback(*referrer, paid, n.cfg.BuybackPercent)
	}
	if err := n.commitPurchase(account, referrer, effDay); err != nil {
		n.revertPurchase(account, referrer, quantity, effDay, credited)
		return 0, err
	}

	attrs := map[string]string{
		"account":      account.Hex(),
		"quantity":     strconv.FormatUint(quantity, 10),
		"paid":         paid.String(),
		"effectiveDay": strconv.FormatUint(effDay, 10),
	}
	if referrer != nil {
		attrs["referrer"] = referrer.Hex()
		attrs["buyback"] = credited.String()
	}
	n.emit(sale.EventPurchased, attrs)
	observability.Sale().PurchaseRecorded(quantity)
	n.notifyTier(account, effDay)
	n.recordPurchaseAudit(AuditPurchase{
		Account:      account,
		Referrer:     referrer,
		Quantity:     quantity,
		Paid:         new(big.Int).Set(paid),
		EffectiveDay: effDay,
		OccurredAt:   n.now(),
	})
	return effDay, nil
}

// BackfillEntry is one administratively imported historical purchase.
type BackfillEntry struct {
	Account       sale.Address
	Code          string
	Quantity      uint64
	PurchasedAt   int64
	Paid          *big.Int
	CreditBuyback bool
}

// Backfill records a historical purchase dated to an arbitrary past
// timestamp. The effective day must not be finalized; buyback is credited
// only when the entry asks for it.
func (n *Node) Backfill(entry BackfillEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	applied, err := n.applyBackfill(entry)
	if err != nil {
		return err
	}
	if err := n.commitPurchase(applied.entry.Account, applied.referrer, applied.effDay); err != nil {
		n.revertBackfill(applied)
		return err
	}
	n.announceBackfill(applied, "")
	return nil
}

// BulkBackfill applies a batch of historical purchases transactionally:
// every entry is validated against current state before any is applied, and
// a persistence failure backs out every entry already applied, so a failed
// batch leaves the ledger untouched. It returns the batch identifier
// recorded with the audit rows.
func (n *Node) BulkBackfill(entries []BackfillEntry) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(entries) == 0 {
		return "", sale.ErrEmptyBatch
	}
	for i, entry := range entries {
		if err := n.validateBackfill(entry); err != nil {
			return "", fmt.Errorf("%w: entry %d: %v", sale.ErrBatchEntryInvalid, i, err)
		}
	}
	applied := make([]appliedBackfill, 0, len(entries))
	revertAll := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			n.revertBackfill(applied[i])
		}
	}
	for _, entry := range entries {
		a, err := n.applyBackfill(entry)
		if err != nil {
			// Validation above makes this unreachable; surface it
			// loudly if the invariant ever breaks.
			revertAll()
			return "", err
		}
		applied = append(applied, a)
	}
	for _, a := range applied {
		if err := n.commitPurchase(a.entry.Account, a.referrer, a.effDay); err != nil {
			revertAll()
			return "", err
		}
	}
	batchID := uuid.NewString()
	for _, a := range applied {
		n.announceBackfill(a, batchID)
	}
	return batchID, nil
}

func (n *Node) validateBackfill(entry BackfillEntry) error {
	if entry.Quantity == 0 {
		return sale.ErrZeroQuantity
	}
	if entry.Paid == nil || entry.Paid.Sign() < 0 {
		return sale.ErrInvalidAmount
	}
	if _, err := n.resolveReferrer(entry.Account, entry.Code); err != nil {
		return err
	}
	effDay := ledger.EffectiveDay(n.cfg.Start, entry.PurchasedAt)
	if effDay < n.led.LastFinalizedDay() {
		return fmt.Errorf("%w: day %d < %d", sale.ErrDayFinalized, effDay, n.led.LastFinalizedDay())
	}
	return nil
}

// appliedBackfill captures one entry's in-memory effects so a persistence
// failure can back them out.
type appliedBackfill struct {
	entry    BackfillEntry
	referrer *sale.Address
	credited *big.Int
	effDay   uint64
}

func (n *Node) applyBackfill(entry BackfillEntry) (appliedBackfill, error) {
	if err := n.validateBackfill(entry); err != nil {
		return appliedBackfill{}, err
	}
	referrer, err := n.resolveReferrer(entry.Account, entry.Code)
	if err != nil {
		return appliedBackfill{}, err
	}
	effDay := ledger.EffectiveDay(n.cfg.Start, entry.PurchasedAt)
	if err := n.led.RecordPurchase(entry.Account, referrer, entry.Quantity, effDay); err != nil {
		return appliedBackfill{}, err
	}
	n.unitsSold += entry.Quantity
	var credited *big.Int
	if referrer != nil && entry.CreditBuyback {
		credited = n.refs.CreditBuyback(*referrer, entry.Paid, n.cfg.BuybackPercent)
	}
	return appliedBackfill{entry: entry, referrer: referrer, credited: credited, effDay: effDay}, nil
}

func (n *Node) revertBackfill(applied appliedBackfill) {
	n.revertPurchase(applied.entry.Account, applied.referrer, applied.entry.Quantity, applied.effDay, applied.credited)
}

func (n *Node) announceBackfill(applied appliedBackfill, batchID string) {
	attrs := map[string]string{
		"account":      applied.entry.Account.Hex(),
		"quantity":     strconv.FormatUint(applied.entry.Quantity, 10),
		"paid":         applied.entry.Paid.String(),
		"effectiveDay": strconv.FormatUint(applied.effDay, 10),
	}
	if applied.referrer != nil {
		attrs["referrer"] = applied.referrer.Hex()
	}
	if batchID != "" {
		attrs["batch"] = batchID
	}
	n.emit(sale.EventBackfilled, attrs)
	observability.Sale().PurchaseRecorded(applied.entry.Quantity)
	n.notifyTier(applied.entry.Account, applied.effDay)
	n.recordPurchaseAudit(AuditPurchase{
		Account:      applied.entry.Account,
		Referrer:     applied.referrer,
		Quantity:     applied.entry.Quantity,
		Paid:         new(big.Int).Set(applied.entry.Paid),
		EffectiveDay: applied.effDay,
		Backfill:     true,
		BatchID:      batchID,
		OccurredAt:   n.now(),
	})
}

// revertPurchase backs out a purchase's in-memory effects after persisting
// it failed, then rewrites the records an earlier save in the same commit
// may already have touched.
func (n *Node) revertPurchase(account sale.Address, referrer *sale.Address, quantity, effDay uint64, credited *big.Int) {
	n.led.RevertPurchase(account, referrer, quantity, effDay)
	n.unitsSold -= quantity
	if referrer != nil {
		n.refs.RevertCredit(*referrer, credited)
	}
	_ = n.st.SaveAdded(effDay, n.led.AddedAt(effDay))
	_ = n.persistAccount(account)
	if referrer != nil {
		_ = n.persistAccount(*referrer)
	}
}

func (n *Node) commitPurchase(account sale.Address, referrer *sale.Address, effDay uint64) error {
	if err := n.st.SaveAdded(effDay, n.led.AddedAt(effDay)); err != nil {
		return err
	}
	if err := n.persistAccount(account); err != nil {
		return err
	}
	if referrer != nil {
		if err := n.persistAccount(*referrer); err != nil {
			return err
		}
	}
	return n.persistMeta()
}

func (n *Node) notifyTier(account sale.Address, effDay uint64) {
	if n.notifier == nil {
		return
	}
	n.notifier.NotifyTier(account, n.led.BalanceAtDay(account, effDay))
}

// Transfer moves owned units between accounts starting today. History is
// never rewritten; the sender needs the quantity available net of earlier
// same-day transfers.
func (n *Node) Transfer(from, to sale.Address, quantity uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.paused {
		return sale.ErrPaused
	}
	if from == to {
		return sale.ErrSelfTransfer
	}
	day := n.led.CurrentDay(n.now().Unix())
	if err := n.led.Transfer(from, to, quantity, day); err != nil {
		return err
	}
	if err := n.persistAccount(from); err != nil {
		n.revertTransfer(from, to, quantity, day)
		return err
	}
	if err := n.persistAccount(to); err != nil {
		n.revertTransfer(from, to, quantity, day)
		return err
	}
	n.emit(sale.EventTransferred, map[string]string{
		"from":     from.Hex(),
		"to":       to.Hex(),
		"quantity": strconv.FormatUint(quantity, 10),
		"day":      strconv.FormatUint(day, 10),
	})
	n.recordTransferAudit(AuditTransfer{From: from, To: to, Quantity: quantity, Day: day, OccurredAt: n.now()})
	return nil
}

// revertTransfer moves the units back after a failed persist. The receiver
// holds exactly the moved quantity at the day, so the reverse cannot fail.
func (n *Node) revertTransfer(from, to sale.Address, quantity, day uint64) {
	_ = n.led.Transfer(to, from, quantity, day)
	_ = n.persistAccount(from)
}
