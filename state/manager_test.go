package state

import (
	"math/big"
	"testing"

	"vestd/sale"
	"vestd/sale/ledger"
	"vestd/sale/schedule"
	"vestd/storage"
)

func addr(index byte) sale.Address {
	var out sale.Address
	out[19] = index
	return out
}

func TestMetaRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if _, ok, err := m.LoadMeta(); err != nil || ok {
		t.Fatalf("fresh db should have no meta: ok=%v err=%v", ok, err)
	}
	meta := Meta{Start: 1_700_000_000, Policy: ledger.PolicyPriorDay, Paused: true, UnitsSold: 42, FinalizedDays: 7, ScheduleSet: true}
	if err := m.SaveMeta(meta); err != nil {
		t.Fatalf("save meta: %v", err)
	}
	loaded, ok, err := m.LoadMeta()
	if err != nil || !ok {
		t.Fatalf("load meta: ok=%v err=%v", ok, err)
	}
	if loaded != meta {
		t.Fatalf("meta mismatch: %+v != %+v", loaded, meta)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	tranches := []schedule.Tranche{
		{End: 863_999, BuyerPool: big.NewInt(1000), ReferrerPool: big.NewInt(500)},
		{End: 2_591_999, BuyerPool: big.NewInt(4000), ReferrerPool: big.NewInt(100)},
	}
	if err := m.SaveSchedule(tranches); err != nil {
		t.Fatalf("save schedule: %v", err)
	}
	loaded, ok, err := m.LoadSchedule()
	if err != nil || !ok {
		t.Fatalf("load schedule: ok=%v err=%v", ok, err)
	}
	if len(loaded) != 2 || loaded[0].End != 863_999 || loaded[1].BuyerPool.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("schedule mismatch: %+v", loaded)
	}
}

func TestAddedIndexOrdering(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	for _, day := range []uint64{5, 1, 3, 1} {
		delta := ledger.DayDelta{Units: big.NewInt(int64(day * 10)), ReferralUnits: big.NewInt(int64(day))}
		if err := m.SaveAdded(day, delta); err != nil {
			t.Fatalf("save added: %v", err)
		}
	}
	added, err := m.LoadAdded()
	if err != nil {
		t.Fatalf("load added: %v", err)
	}
	if len(added) != 3 {
		t.Fatalf("expected 3 days, got %d", len(added))
	}
	for i, want := range []uint64{1, 3, 5} {
		if added[i].Day != want {
			t.Fatalf("expected day %d at %d, got %d", want, i, added[i].Day)
		}
	}
	if added[2].Delta.Units.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected delta: %s", added[2].Delta.Units)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	rec := AccountRecord{
		Units:        []ledger.Checkpoint{{Day: 0, Value: big.NewInt(5)}, {Day: 3, Value: big.NewInt(9)}},
		ClaimedBuyer: big.NewInt(120),
		Buyback:      big.NewInt(77),
	}
	if err := m.SaveAccount(addr(1), rec); err != nil {
		t.Fatalf("save account: %v", err)
	}
	// A second save must not duplicate the index entry.
	if err := m.SaveAccount(addr(1), rec); err != nil {
		t.Fatalf("resave account: %v", err)
	}
	accounts, err := m.LoadAccounts()
	if err != nil {
		t.Fatalf("load accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	loaded := accounts[addr(1)]
	if len(loaded.Units) != 2 || loaded.Units[1].Value.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("checkpoints mismatch: %+v", loaded.Units)
	}
	if loaded.ClaimedBuyer.Cmp(big.NewInt(120)) != 0 || loaded.Buyback.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("amounts mismatch: %+v", loaded)
	}
	if loaded.ClaimedReferrer == nil || loaded.ClaimedReferrer.Sign() != 0 {
		t.Fatalf("missing amounts should read zero")
	}
}

func TestCodeDisplacement(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if err := m.SaveCode("CODE0001", addr(1), ""); err != nil {
		t.Fatalf("save code: %v", err)
	}
	// addr(1) moves to a new code; the old one is displaced.
	if err := m.SaveCode("CODE0002", addr(1), "CODE0001"); err != nil {
		t.Fatalf("save code: %v", err)
	}
	codes, err := m.LoadCodes()
	if err != nil {
		t.Fatalf("load codes: %v", err)
	}
	if len(codes) != 1 || codes[0].Code != "CODE0002" || codes[0].Owner != addr(1) {
		t.Fatalf("unexpected codes: %+v", codes)
	}
}

func TestDeleteCode(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if err := m.SaveCode("CODE0001", addr(1), ""); err != nil {
		t.Fatalf("save code: %v", err)
	}
	if err := m.SaveCode("CODE0002", addr(2), ""); err != nil {
		t.Fatalf("save code: %v", err)
	}
	if err := m.DeleteCode("CODE0001"); err != nil {
		t.Fatalf("delete code: %v", err)
	}
	codes, err := m.LoadCodes()
	if err != nil {
		t.Fatalf("load codes: %v", err)
	}
	if len(codes) != 1 || codes[0].Code != "CODE0002" || codes[0].Owner != addr(2) {
		t.Fatalf("unexpected codes: %+v", codes)
	}
}

func TestFinalizedRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	rec := ledger.FinalizedDay{
		CumUnits:         big.NewInt(15),
		CumReferralUnits: big.NewInt(4),
		BuyerPerUnit:     big.NewInt(20),
		ReferrerPerUnit:  big.NewInt(0),
	}
	if err := m.SaveFinalized(0, rec); err != nil {
		t.Fatalf("save finalized: %v", err)
	}
	loaded, ok, err := m.LoadFinalized(0)
	if err != nil || !ok {
		t.Fatalf("load finalized: ok=%v err=%v", ok, err)
	}
	if loaded.CumUnits.Cmp(big.NewInt(15)) != 0 || loaded.BuyerPerUnit.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("finalized mismatch: %+v", loaded)
	}
	if _, ok, _ := m.LoadFinalized(1); ok {
		t.Fatalf("day 1 should be absent")
	}
}
