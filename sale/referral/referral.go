package referral

import (
	"fmt"
	"math/big"
	"strings"

	"vestd/sale"
)

// CodeLength is the fixed referral code length.
const CodeLength = 8

// NormalizeCode upper-cases and validates a referral code. Codes are exactly
// CodeLength characters drawn from A-Z and 0-9.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", fmt.Errorf("%w: length %d", sale.ErrInvalidCode, len(code))
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: character %q", sale.ErrInvalidCode, r)
		}
	}
	return code, nil
}

// Ledger maps referral codes to owner accounts one-to-one and accumulates
// cash buyback balances per referrer.
type Ledger struct {
	codes   map[string]sale.Address
	owners  map[sale.Address]string
	buyback map[sale.Address]*big.Int
}

// NewLedger constructs an empty referral ledger.
func NewLedger() *Ledger {
	return &Ledger{
		codes:   make(map[string]sale.Address),
		owners:  make(map[sale.Address]string),
		buyback: make(map[sale.Address]*big.Int),
	}
}

// Assign binds a code to an owner. Reassigning a taken code, or giving a new
// code to an owner that already has one, requires the administrative
// overwrite flag; the displaced mappings are removed so the code/owner
// relation stays one-to-one.
func (l *Ledger) Assign(owner sale.Address, rawCode string, overwrite bool) (string, error) {
	code, err := NormalizeCode(rawCode)
	if err != nil {
		return "", err
	}
	if current, ok := l.codes[code]; ok && current != owner {
		if !overwrite {
			return "", fmt.Errorf("%w: %s", sale.ErrCodeTaken, code)
		}
		delete(l.owners, current)
	}
	if existing, ok := l.owners[owner]; ok && existing != code {
		if !overwrite {
			return "", fmt.Errorf("%w: %s", sale.ErrAccountHasCode, existing)
		}
		delete(l.codes, existing)
	}
	l.codes[code] = owner
	l.owners[owner] = code
	return code, nil
}

// Resolve returns the owner of a normalized code.
func (l *Ledger) Resolve(rawCode string) (sale.Address, bool) {
	code, err := NormalizeCode(rawCode)
	if err != nil {
		return sale.Address{}, false
	}
	owner, ok := l.codes[code]
	return owner, ok
}

// CodeOf returns the code assigned to an owner.
func (l *Ledger) CodeOf(owner sale.Address) (string, bool) {
	code, ok := l.owners[owner]
	return code, ok
}

// CreditBuyback adds paid*percent/100 to the referrer's buyback balance and
// returns the credited amount.
func (l *Ledger) CreditBuyback(owner sale.Address, paid *big.Int, percent uint64) *big.Int {
	if paid == nil || paid.Sign() <= 0 || percent == 0 {
		return new(big.Int)
	}
	credit := new(big.Int).Mul(paid, new(big.Int).SetUint64(percent))
	credit.Quo(credit, big.NewInt(100))
	if credit.Sign() <= 0 {
		return new(big.Int)
	}
	balance, ok := l.buyback[owner]
	if !ok {
		balance = new(big.Int)
		l.buyback[owner] = balance
	}
	balance.Add(balance, credit)
	return credit
}

// RevertCredit backs out a buyback credit granted earlier in the same
// operation, used when persisting it failed.
func (l *Ledger) RevertCredit(owner sale.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	balance, ok := l.buyback[owner]
	if !ok {
		return
	}
	balance.Sub(balance, amount)
	if balance.Sign() <= 0 {
		delete(l.buyback, owner)
	}
}

// RestoreBalance returns a paid-out balance to the owner, used when
// persisting the claim that zeroed it failed.
func (l *Ledger) RestoreBalance(owner sale.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	balance, ok := l.buyback[owner]
	if !ok {
		l.buyback[owner] = new(big.Int).Set(amount)
		return
	}
	balance.Add(balance, amount)
}

// BuybackBalance returns the unclaimed buyback balance for an owner.
func (l *Ledger) BuybackBalance(owner sale.Address) *big.Int {
	balance, ok := l.buyback[owner]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}

// ClaimBuyback pays out the full balance and zeroes it. Fails when there is
// nothing to claim.
func (l *Ledger) ClaimBuyback(owner sale.Address) (*big.Int, error) {
	balance, ok := l.buyback[owner]
	if !ok || balance.Sign() <= 0 {
		return nil, sale.ErrNothingToClaim
	}
	paid := new(big.Int).Set(balance)
	delete(l.buyback, owner)
	return paid, nil
}

// Snapshot entries for persistence, sorted by the caller.

// CodeEntry is one code assignment.
type CodeEntry struct {
	Code  string
	Owner sale.Address
}

// BuybackEntry is one unclaimed buyback balance.
type BuybackEntry struct {
	Owner   sale.Address
	Balance *big.Int
}

// Codes returns all code assignments.
func (l *Ledger) Codes() []CodeEntry {
	out := make([]CodeEntry, 0, len(l.codes))
	for code, owner := range l.codes {
		out = append(out, CodeEntry{Code: code, Owner: owner})
	}
	return out
}

// Buybacks returns all non-zero buyback balances.
func (l *Ledger) Buybacks() []BuybackEntry {
	out := make([]BuybackEntry, 0, len(l.buyback))
	for owner, balance := range l.buyback {
		out = append(out, BuybackEntry{Owner: owner, Balance: new(big.Int).Set(balance)})
	}
	return out
}

// Restore rebuilds a ledger from persisted entries.
func Restore(codes []CodeEntry, buybacks []BuybackEntry) (*Ledger, error) {
	l := NewLedger()
	for _, entry := range codes {
		code, err := NormalizeCode(entry.Code)
		if err != nil {
			return nil, sale.ErrStateCorrupt
		}
		if _, ok := l.codes[code]; ok {
			return nil, sale.ErrStateCorrupt
		}
		if _, ok := l.owners[entry.Owner]; ok {
			return nil, sale.ErrStateCorrupt
		}
		l.codes[code] = entry.Owner
		l.owners[entry.Owner] = code
	}
	for _, entry := range buybacks {
		if entry.Balance == nil || entry.Balance.Sign() < 0 {
			return nil, sale.ErrStateCorrupt
		}
		if entry.Balance.Sign() > 0 {
			l.buyback[entry.Owner] = new(big.Int).Set(entry.Balance)
		}
	}
	return l, nil
}
