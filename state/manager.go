package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"vestd/sale"
	"vestd/sale/ledger"
	"vestd/sale/referral"
	"vestd/sale/schedule"
	"vestd/storage"
)

// Manager persists ledger state as RLP-encoded records in a key-value store.
// One record per day or account keeps writes proportional to the operation,
// with small index records standing in for prefix iteration.
type Manager struct {
	db storage.Database
}

// NewManager wraps a database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, ok, err := m.db.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Meta is the single mutable header record.
type Meta struct {
	Start         int64
	Policy        ledger.DenominatorPolicy
	Paused        bool
	UnitsSold     uint64
	FinalizedDays uint64
	ScheduleSet   bool
}

type metaRLP struct {
	Start         uint64
	Policy        uint8
	Paused        bool
	UnitsSold     uint64
	FinalizedDays uint64
	ScheduleSet   bool
}

// SaveMeta writes the header record. Start must be non-negative.
func (m *Manager) SaveMeta(meta Meta) error {
	if meta.Start < 0 {
		return fmt.Errorf("%w: negative start", sale.ErrInvalidTimestamp)
	}
	return m.put(metaKey(), metaRLP{
		Start:         uint64(meta.Start),
		Policy:        uint8(meta.Policy),
		Paused:        meta.Paused,
		UnitsSold:     meta.UnitsSold,
		FinalizedDays: meta.FinalizedDays,
		ScheduleSet:   meta.ScheduleSet,
	})
}

// LoadMeta reads the header record; ok is false for a fresh database.
func (m *Manager) LoadMeta() (Meta, bool, error) {
	var rec metaRLP
	ok, err := m.get(metaKey(), &rec)
	if err != nil || !ok {
		return Meta{}, false, err
	}
	return Meta{
		Start:         int64(rec.Start),
		Policy:        ledger.DenominatorPolicy(rec.Policy),
		Paused:        rec.Paused,
		UnitsSold:     rec.UnitsSold,
		FinalizedDays: rec.FinalizedDays,
		ScheduleSet:   rec.ScheduleSet,
	}, true, nil
}

type trancheRLP struct {
	End          uint64
	BuyerPool    *big.Int
	ReferrerPool *big.Int
}

// SaveSchedule writes the immutable tranche list.
func (m *Manager) SaveSchedule(tranches []schedule.Tranche) error {
	recs := make([]trancheRLP, len(tranches))
	for i, tranche := range tranches {
		if tranche.End < 0 {
			return fmt.Errorf("%w: negative tranche end", sale.ErrInvalidTimestamp)
		}
		recs[i] = trancheRLP{
			End:          uint64(tranche.End),
			BuyerPool:    tranche.BuyerPool,
			ReferrerPool: tranche.ReferrerPool,
		}
	}
	return m.put(scheduleKey(), recs)
}

// LoadSchedule reads the tranche list; ok is false when none was saved.
func (m *Manager) LoadSchedule() ([]schedule.Tranche, bool, error) {
	var recs []trancheRLP
	ok, err := m.get(scheduleKey(), &recs)
	if err != nil || !ok {
		return nil, false, err
	}
	tranches := make([]schedule.Tranche, len(recs))
	for i, rec := range recs {
		tranches[i] = schedule.Tranche{
			End:          int64(rec.End),
			BuyerPool:    rec.BuyerPool,
			ReferrerPool: rec.ReferrerPool,
		}
	}
	return tranches, true, nil
}

// SaveFinalized freezes one day's outcome.
func (m *Manager) SaveFinalized(day uint64, rec ledger.FinalizedDay) error {
	return m.put(finalizedKey(day), rec)
}

// LoadFinalized reads one frozen day.
func (m *Manager) LoadFinalized(day uint64) (ledger.FinalizedDay, bool, error) {
	var rec ledger.FinalizedDay
	ok, err := m.get(finalizedKey(day), &rec)
	return rec, ok, err
}

// SaveAdded writes one day's added counters and registers the day in the
// index.
func (m *Manager) SaveAdded(day uint64, delta ledger.DayDelta) error {
	if err := m.put(addedKey(day), delta); err != nil {
		return err
	}
	var days []uint64
	if _, err := m.get(addedIndexKey(), &days); err != nil {
		return err
	}
	for _, existing := range days {
		if existing == day {
			return nil
		}
	}
	days = append(days, day)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return m.put(addedIndexKey(), days)
}

// LoadAdded reads every day's added counters in day order.
func (m *Manager) LoadAdded() ([]ledger.AddedSnapshot, error) {
	var days []uint64
	if _, err := m.get(addedIndexKey(), &days); err != nil {
		return nil, err
	}
	out := make([]ledger.AddedSnapshot, 0, len(days))
	for _, day := range days {
		var delta ledger.DayDelta
		ok, err := m.get(addedKey(day), &delta)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: missing added record for day %d", sale.ErrStateCorrupt, day)
		}
		out = append(out, ledger.AddedSnapshot{Day: day, Delta: delta})
	}
	return out, nil
}

// AccountRecord is everything persisted for one account: both checkpoint
// series, claimed totals per pool, and the unclaimed buyback balance.
type AccountRecord struct {
	Units           []ledger.Checkpoint
	ReferralUnits   []ledger.Checkpoint
	ClaimedBuyer    *big.Int
	ClaimedReferrer *big.Int
	Buyback         *big.Int
}

func normalizeAccount(rec AccountRecord) AccountRecord {
	if rec.ClaimedBuyer == nil {
		rec.ClaimedBuyer = new(big.Int)
	}
	if rec.ClaimedReferrer == nil {
		rec.ClaimedReferrer = new(big.Int)
	}
	if rec.Buyback == nil {
		rec.Buyback = new(big.Int)
	}
	return rec
}

// SaveAccount writes one account's record and registers the address in the
// index.
func (m *Manager) SaveAccount(addr sale.Address, rec AccountRecord) error {
	if err := m.put(accountKey(addr), normalizeAccount(rec)); err != nil {
		return err
	}
	var addrs [][]byte
	if _, err := m.get(accountIndexKey(), &addrs); err != nil {
		return err
	}
	for _, existing := range addrs {
		if sale.Address(existing) == addr {
			return nil
		}
	}
	addrs = append(addrs, addr[:])
	return m.put(accountIndexKey(), addrs)
}

// LoadAccounts reads every account record.
func (m *Manager) LoadAccounts() (map[sale.Address]AccountRecord, error) {
	var addrs [][]byte
	if _, err := m.get(accountIndexKey(), &addrs); err != nil {
		return nil, err
	}
	out := make(map[sale.Address]AccountRecord, len(addrs))
	for _, raw := range addrs {
		if len(raw) != 20 {
			return nil, fmt.Errorf("%w: bad account index entry", sale.ErrStateCorrupt)
		}
		addr := sale.Address(raw)
		var rec AccountRecord
		ok, err := m.get(accountKey(addr), &rec)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: missing account record %s", sale.ErrStateCorrupt, addr.Hex())
		}
		out[addr] = normalizeAccount(rec)
	}
	return out, nil
}

type codeRLP struct {
	Owner [20]byte
}

// SaveCode binds a referral code to its owner. A previously stored code that
// the assignment displaced is removed in the same call.
func (m *Manager) SaveCode(code string, owner sale.Address, displaced string) error {
	if err := m.put(codeKey(code), codeRLP{Owner: owner}); err != nil {
		return err
	}
	var codes []string
	if _, err := m.get(codeIndexKey(), &codes); err != nil {
		return err
	}
	next := make([]string, 0, len(codes)+1)
	present := false
	for _, existing := range codes {
		if existing == displaced && displaced != code {
			continue
		}
		if existing == code {
			present = true
		}
		next = append(next, existing)
	}
	if !present {
		next = append(next, code)
	}
	if displaced != "" && displaced != code {
		if err := m.db.Delete(codeKey(displaced)); err != nil {
			return err
		}
	}
	return m.put(codeIndexKey(), next)
}

// DeleteCode removes a code binding and its index entry.
func (m *Manager) DeleteCode(code string) error {
	if err := m.db.Delete(codeKey(code)); err != nil {
		return err
	}
	var codes []string
	if _, err := m.get(codeIndexKey(), &codes); err != nil {
		return err
	}
	next := make([]string, 0, len(codes))
	for _, existing := range codes {
		if existing != code {
			next = append(next, existing)
		}
	}
	return m.put(codeIndexKey(), next)
}

// LoadCodes reads every code assignment.
func (m *Manager) LoadCodes() ([]referral.CodeEntry, error) {
	var codes []string
	if _, err := m.get(codeIndexKey(), &codes); err != nil {
		return nil, err
	}
	out := make([]referral.CodeEntry, 0, len(codes))
	for _, code := range codes {
		var rec codeRLP
		ok, err := m.get(codeKey(code), &rec)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: missing code record %s", sale.ErrStateCorrupt, code)
		}
		out = append(out, referral.CodeEntry{Code: code, Owner: rec.Owner})
	}
	return out, nil
}
