package core

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"vestd/sale"
	"vestd/sale/ledger"
	"vestd/sale/pricing"
	"vestd/state"
	"vestd/storage"
)

const testStart = int64(1_700_000_000)

var (
	alice = mustAddr("0x1111111111111111111111111111111111111111")
	bob   = mustAddr("0x2222222222222222222222222222222222222222")
	carol = mustAddr("0x3333333333333333333333333333333333333333")
)

func mustAddr(hex string) sale.Address {
	addr, err := sale.ParseAddress(hex)
	if err != nil {
		panic(err)
	}
	return addr
}

func testConfig() Config {
	return Config{
		Start:          testStart,
		Policy:         ledger.PolicySameDay,
		BuybackPercent: 5,
		PayoutQuantum:  big.NewInt(1),
		Bands: []pricing.Band{
			{UpTo: 1600, Price: big.NewInt(325)},
			{UpTo: 3200, Price: big.NewInt(350)},
		},
		CapPrice: big.NewInt(400),
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestNode(t *testing.T, db storage.Database, opts ...Option) (*Node, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(testStart, 0)}
	opts = append(opts, WithClock(clock.Now))
	node, err := NewNode(testConfig(), state.NewManager(db), opts...)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node, clock
}

func initTestSchedule(t *testing.T, node *Node, days int64, buyerPool, referrerPool int64) {
	t.Helper()
	end := testStart + days*86_400 - 1
	err := node.InitializeSchedule(
		[]int64{end},
		[]*big.Int{big.NewInt(buyerPool)},
		[]*big.Int{big.NewInt(referrerPool)},
	)
	if err != nil {
		t.Fatalf("initialize schedule: %v", err)
	}
}

func mustPurchase(t *testing.T, node *Node, account sale.Address, quantity uint64, code string) {
	t.Helper()
	paid, err := node.Quote(quantity, code)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if _, err := node.Purchase(account, quantity, code, paid); err != nil {
		t.Fatalf("purchase: %v", err)
	}
}

func TestPurchaseRequiresExactPayment(t *testing.T) {
	node, _ := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 100)

	if _, err := node.Purchase(alice, 10, "", big.NewInt(1)); !errors.Is(err, sale.ErrPaymentMismatch) {
		t.Fatalf("expected payment mismatch, got %v", err)
	}
	if _, err := node.Purchase(alice, 0, "", big.NewInt(325)); !errors.Is(err, sale.ErrZeroQuantity) {
		t.Fatalf("expected zero quantity error, got %v", err)
	}
	mustPurchase(t, node, alice, 10, "")
	if got := node.BalanceAtDay(alice, 0); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance after purchase = %s", got)
	}
}

func TestQuoteWithUnknownCodeUnavailable(t *testing.T) {
	node, _ := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 100)

	price, err := node.Quote(5, "NOSUCHCD")
	if !errors.Is(err, sale.ErrQuoteUnavailable) {
		t.Fatalf("expected quote unavailable, got %v", err)
	}
	if price == nil || price.Sign() != 0 {
		t.Fatalf("unavailable quote must price at zero, got %v", price)
	}
}

func TestReferralPurchaseCreditsBuyback(t *testing.T) {
	node, _ := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 100)

	if _, err := node.AssignCode(bob, "bobcode1", false); err != nil {
		t.Fatalf("assign code: %v", err)
	}
	mustPurchase(t, node, alice, 4, "BOBCODE1")

	// 5% of the 1300 paid.
	if got := node.BuybackBalance(bob); got.Cmp(big.NewInt(65)) != 0 {
		t.Fatalf("buyback balance = %s", got)
	}
	if got := node.ReferralUnitsAtDay(bob, 0); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("referral units = %s", got)
	}

	paid, err := node.ClaimBuyback(bob)
	if err != nil {
		t.Fatalf("claim buyback: %v", err)
	}
	if paid.Cmp(big.NewInt(65)) != 0 {
		t.Fatalf("buyback paid = %s", paid)
	}
	if _, err := node.ClaimBuyback(bob); !errors.Is(err, sale.ErrNothingToClaim) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}
}

func TestSelfReferralRejected(t *testing.T) {
	node, _ := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 100)

	if _, err := node.AssignCode(alice, "alicecod", false); err != nil {
		t.Fatalf("assign code: %v", err)
	}
	if _, err := node.Purchase(alice, 2, "ALICECOD", big.NewInt(650)); !errors.Is(err, sale.ErrSelfReferral) {
		t.Fatalf("expected self referral error, got %v", err)
	}
}

func TestAdvanceThenClaim(t *testing.T) {
	node, clock := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 0)

	mustPurchase(t, node, alice, 50, "")
	clock.advance(24 * time.Hour)

	count, err := node.Advance(31)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if count != 1 {
		t.Fatalf("finalized %d days, want 1", count)
	}

	preview, err := node.PreviewClaimable(alice, clock.now.Unix(), sale.PoolBuyer)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("preview = %s, want 100", preview)
	}

	paid, err := node.Claim(alice, sale.PoolBuyer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("claim paid = %s, want 100", paid)
	}
	if _, err := node.Claim(alice, sale.PoolBuyer); !errors.Is(err, sale.ErrNothingToClaim) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}
}

func TestAdvanceWithoutScheduleFails(t *testing.T) {
	node, _ := newTestNode(t, storage.NewMemDB())
	if _, err := node.Advance(1); !errors.Is(err, sale.ErrScheduleNotSet) {
		t.Fatalf("expected schedule-not-set error, got %v", err)
	}
}

func TestClaimQuantumFlooring(t *testing.T) {
	cfg := testConfig()
	cfg.PayoutQuantum = big.NewInt(100)
	clock := &testClock{now: time.Unix(testStart, 0)}
	node, err := NewNode(cfg, state.NewManager(storage.NewMemDB()), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	initTestSchedule(t, node, 10, 1070, 0)

	mustPurchase(t, node, alice, 2, "")
	clock.advance(24 * time.Hour)
	if _, err := node.Advance(1); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// Day pool 107, 2 units: per-unit 53, accrued 106, floored to 100.
	paid, err := node.Claim(alice, sale.PoolBuyer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("floored claim = %s, want 100", paid)
	}
	// The residual 6 stays claimable but is below the quantum.
	if _, err := node.Claim(alice, sale.PoolBuyer); !errors.Is(err, sale.ErrNothingToClaim) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}
}

func TestBulkBackfillAtomicity(t *testing.T) {
	node, clock := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 100)

	clock.advance(48 * time.Hour)
	if _, err := node.Advance(31); err != nil {
		t.Fatalf("advance: %v", err)
	}

	before := node.Totals()
	_, err := node.BulkBackfill([]BackfillEntry{
		{Account: alice, Quantity: 3, PurchasedAt: testStart + 90_000, Paid: big.NewInt(975)},
		// Day 0 is finalized; this entry must sink the whole batch.
		{Account: carol, Quantity: 7, PurchasedAt: testStart + 10, Paid: big.NewInt(2275)},
	})
	if !errors.Is(err, sale.ErrBatchEntryInvalid) {
		t.Fatalf("expected batch entry error, got %v", err)
	}
	after := node.Totals()
	if after.UnitsSold != before.UnitsSold {
		t.Fatalf("units sold changed on failed batch: %d -> %d", before.UnitsSold, after.UnitsSold)
	}
	if got := node.BalanceAtDay(alice, 9); got.Sign() != 0 {
		t.Fatalf("alice balance changed on failed batch: %s", got)
	}

	batchID, err := node.BulkBackfill([]BackfillEntry{
		{Account: alice, Quantity: 3, PurchasedAt: testStart + 90_000, Paid: big.NewInt(975)},
	})
	if err != nil {
		t.Fatalf("bulk backfill: %v", err)
	}
	if batchID == "" {
		t.Fatalf("expected batch id")
	}
	if got := node.BalanceAtDay(alice, 2); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("alice balance after backfill = %s", got)
	}
}

func TestBulkAssignCodesAtomicity(t *testing.T) {
	node, _ := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 100)

	if _, err := node.AssignCode(bob, "taken001", false); err != nil {
		t.Fatalf("assign code: %v", err)
	}
	err := node.BulkAssignCodes([]CodeAssignment{
		{Owner: alice, Code: "fresh001"},
		{Owner: carol, Code: "taken001"},
	}, false)
	if !errors.Is(err, sale.ErrBatchEntryInvalid) {
		t.Fatalf("expected batch entry error, got %v", err)
	}
	if _, ok := node.CodeOf(alice); ok {
		t.Fatalf("alice got a code from a failed batch")
	}

	if err := node.BulkAssignCodes([]CodeAssignment{
		{Owner: alice, Code: "fresh001"},
		{Owner: carol, Code: "fresh002"},
	}, false); err != nil {
		t.Fatalf("bulk assign: %v", err)
	}
	owner, ok := node.ResolveCode("FRESH002")
	if !ok || owner != carol {
		t.Fatalf("resolve fresh002 = %v %v", owner, ok)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	node, _ := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 100)
	mustPurchase(t, node, alice, 5, "")

	if err := node.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := node.Pause(); !errors.Is(err, sale.ErrPaused) {
		t.Fatalf("expected already-paused error, got %v", err)
	}
	if _, err := node.Purchase(alice, 1, "", big.NewInt(325)); !errors.Is(err, sale.ErrPaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := node.Transfer(alice, bob, 1); !errors.Is(err, sale.ErrPaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := node.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := node.Resume(); !errors.Is(err, sale.ErrNotPaused) {
		t.Fatalf("expected not-paused error, got %v", err)
	}
	mustPurchase(t, node, alice, 1, "")
}

type capturingNotifier struct {
	calls []*big.Int
}

func (c *capturingNotifier) NotifyTier(addr sale.Address, cumulativeUnits *big.Int) {
	c.calls = append(c.calls, new(big.Int).Set(cumulativeUnits))
}

func TestTierNotifierSeesCumulativeUnits(t *testing.T) {
	notifier := &capturingNotifier{}
	node, _ := newTestNode(t, storage.NewMemDB(), WithNotifier(notifier))
	initTestSchedule(t, node, 10, 1000, 100)

	mustPurchase(t, node, alice, 3, "")
	mustPurchase(t, node, alice, 2, "")

	if len(notifier.calls) != 2 {
		t.Fatalf("notifier calls = %d, want 2", len(notifier.calls))
	}
	if notifier.calls[0].Cmp(big.NewInt(3)) != 0 || notifier.calls[1].Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("notifier saw %v", notifier.calls)
	}
}

func TestRestartRestoresState(t *testing.T) {
	db := storage.NewMemDB()
	node, clock := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 100)

	if _, err := node.AssignCode(bob, "bobcode1", false); err != nil {
		t.Fatalf("assign code: %v", err)
	}
	mustPurchase(t, node, alice, 50, "BOBCODE1")
	clock.advance(24 * time.Hour)
	mustPurchase(t, node, alice, 10, "")
	if _, err := node.Advance(31); err != nil {
		t.Fatalf("advance: %v", err)
	}
	paid, err := node.Claim(alice, sale.PoolBuyer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	restored, restoredClock := newTestNode(t, db)
	restoredClock.advance(24 * time.Hour)

	wantTotals := node.Totals()
	gotTotals := restored.Totals()
	if gotTotals.UnitsSold != wantTotals.UnitsSold ||
		gotTotals.LastFinalizedDay != wantTotals.LastFinalizedDay ||
		gotTotals.CumulativeUnits.Cmp(wantTotals.CumulativeUnits) != 0 {
		t.Fatalf("restored totals %+v, want %+v", gotTotals, wantTotals)
	}
	if got := restored.BalanceAtDay(alice, 1); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("restored day-1 balance = %s", got)
	}
	// The day-1 purchase takes effect on day 2.
	if got := restored.BalanceAtDay(alice, 2); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("restored day-2 balance = %s", got)
	}
	owner, ok := restored.ResolveCode("BOBCODE1")
	if !ok || owner != bob {
		t.Fatalf("restored code lookup = %v %v", owner, ok)
	}
	if got := restored.BuybackBalance(bob); got.Cmp(node.BuybackBalance(bob)) != 0 {
		t.Fatalf("restored buyback = %s", got)
	}

	// The restored node already owes nothing for the claimed span.
	preview, err := restored.PreviewClaimable(alice, time.Unix(testStart, 0).Add(24*time.Hour).Unix(), sale.PoolBuyer)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.Sign() != 0 {
		t.Fatalf("restored preview = %s after paying %s", preview, paid)
	}

	// Finalizing the second day on the restored node must match a node
	// that never restarted.
	if _, err := node.Advance(31); err != nil {
		t.Fatalf("advance original: %v", err)
	}
	if _, err := restored.Advance(31); err != nil {
		t.Fatalf("advance restored: %v", err)
	}
	if restored.Totals().LastFinalizedDay != node.Totals().LastFinalizedDay {
		t.Fatalf("restored finalization diverged")
	}
}

func TestRestartRejectsMismatchedProgram(t *testing.T) {
	db := storage.NewMemDB()
	node, _ := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 100)

	cfg := testConfig()
	cfg.Start = testStart + 86_400
	if _, err := NewNode(cfg, state.NewManager(db)); !errors.Is(err, sale.ErrStateCorrupt) {
		t.Fatalf("expected state corrupt error, got %v", err)
	}
}

func TestTransferSameDayLimit(t *testing.T) {
	node, _ := newTestNode(t, storage.NewMemDB())
	initTestSchedule(t, node, 10, 1000, 100)
	mustPurchase(t, node, alice, 6, "")

	if err := node.Transfer(alice, alice, 1); !errors.Is(err, sale.ErrSelfTransfer) {
		t.Fatalf("expected self transfer error, got %v", err)
	}
	if err := node.Transfer(alice, bob, 7); !errors.Is(err, sale.ErrInsufficientUnits) {
		t.Fatalf("expected insufficient units, got %v", err)
	}
	if err := node.Transfer(alice, bob, 4); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := node.Transfer(alice, carol, 3); !errors.Is(err, sale.ErrInsufficientUnits) {
		t.Fatalf("expected insufficient units after transfer, got %v", err)
	}
	if got := node.BalanceAtDay(bob, 0); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("bob balance = %s", got)
	}
}

func TestEventsRingBuffer(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEvents = 4
	clock := &testClock{now: time.Unix(testStart, 0)}
	node, err := NewNode(cfg, state.NewManager(storage.NewMemDB()), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	initTestSchedule(t, node, 10, 1000, 100)

	for i := 0; i < 6; i++ {
		mustPurchase(t, node, alice, 1, "")
	}
	events := node.Events()
	if len(events) != 4 {
		t.Fatalf("event buffer = %d, want 4", len(events))
	}
	for _, event := range events {
		if event.Type != sale.EventPurchased {
			t.Fatalf("unexpected event %s", event.Type)
		}
	}
}

// faultDB fails writes on demand to exercise the persistence error paths.
type faultDB struct {
	storage.Database
	failing bool
}

func (db *faultDB) Put(key, value []byte) error {
	if db.failing {
		return errors.New("disk full")
	}
	return db.Database.Put(key, value)
}

func (db *faultDB) Delete(key []byte) error {
	if db.failing {
		return errors.New("disk full")
	}
	return db.Database.Delete(key)
}

func TestPurchaseRollsBackOnPersistFailure(t *testing.T) {
	db := &faultDB{Database: storage.NewMemDB()}
	node, _ := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 100)
	if _, err := node.AssignCode(bob, "REFCODE1", false); err != nil {
		t.Fatalf("assign code: %v", err)
	}

	db.failing = true
	if _, err := node.Purchase(alice, 5, "REFCODE1", big.NewInt(5*325)); err == nil {
		t.Fatal("expected purchase to fail")
	}
	if got := node.BalanceAtDay(alice, 0); got.Sign() != 0 {
		t.Fatalf("balance after failed purchase = %s", got)
	}
	if got := node.Totals().UnitsSold; got != 0 {
		t.Fatalf("units sold after failed purchase = %d", got)
	}
	if got := node.BuybackBalance(bob); got.Sign() != 0 {
		t.Fatalf("buyback after failed purchase = %s", got)
	}

	db.failing = false
	mustPurchase(t, node, alice, 5, "REFCODE1")
	if got := node.BalanceAtDay(alice, 0); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("balance after retried purchase = %s", got)
	}
	if got := node.BuybackBalance(bob); got.Cmp(big.NewInt(81)) != 0 {
		t.Fatalf("buyback after retried purchase = %s", got)
	}
}

func TestTransferRollsBackOnPersistFailure(t *testing.T) {
	db := &faultDB{Database: storage.NewMemDB()}
	node, _ := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 100)
	mustPurchase(t, node, alice, 10, "")

	db.failing = true
	if err := node.Transfer(alice, bob, 4); err == nil {
		t.Fatal("expected transfer to fail")
	}
	if got := node.BalanceAtDay(alice, 0); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("sender balance after failed transfer = %s", got)
	}
	if got := node.BalanceAtDay(bob, 0); got.Sign() != 0 {
		t.Fatalf("receiver balance after failed transfer = %s", got)
	}

	db.failing = false
	if err := node.Transfer(alice, bob, 4); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := node.BalanceAtDay(bob, 0); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("receiver balance after retried transfer = %s", got)
	}
}

func TestClaimRollsBackOnPersistFailure(t *testing.T) {
	db := &faultDB{Database: storage.NewMemDB()}
	node, clock := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 0)
	mustPurchase(t, node, alice, 50, "")
	clock.advance(24 * time.Hour)
	if _, err := node.Advance(31); err != nil {
		t.Fatalf("advance: %v", err)
	}

	db.failing = true
	if _, err := node.Claim(alice, sale.PoolBuyer); err == nil {
		t.Fatal("expected claim to fail")
	}

	db.failing = false
	paid, err := node.Claim(alice, sale.PoolBuyer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("claim after failed attempt = %s", paid)
	}
}

func TestClaimBuybackRollsBackOnPersistFailure(t *testing.T) {
	db := &faultDB{Database: storage.NewMemDB()}
	node, _ := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 100)
	if _, err := node.AssignCode(bob, "REFCODE1", false); err != nil {
		t.Fatalf("assign code: %v", err)
	}
	mustPurchase(t, node, alice, 4, "REFCODE1")

	db.failing = true
	if _, err := node.ClaimBuyback(bob); err == nil {
		t.Fatal("expected buyback claim to fail")
	}
	if got := node.BuybackBalance(bob); got.Cmp(big.NewInt(65)) != 0 {
		t.Fatalf("buyback balance after failed claim = %s", got)
	}

	db.failing = false
	paid, err := node.ClaimBuyback(bob)
	if err != nil {
		t.Fatalf("claim buyback: %v", err)
	}
	if paid.Cmp(big.NewInt(65)) != 0 {
		t.Fatalf("buyback paid = %s", paid)
	}
}

func TestAdvanceRollsBackOnPersistFailure(t *testing.T) {
	db := &faultDB{Database: storage.NewMemDB()}
	node, clock := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 0)
	mustPurchase(t, node, alice, 50, "")
	clock.advance(24 * time.Hour)
	eventsBefore := len(node.Events())

	db.failing = true
	if _, err := node.Advance(31); err == nil {
		t.Fatal("expected advance to fail")
	}
	if got := node.Totals().LastFinalizedDay; got != 0 {
		t.Fatalf("last finalized day after failed advance = %d", got)
	}
	if got := len(node.Events()); got != eventsBefore {
		t.Fatalf("failed advance emitted %d events", got-eventsBefore)
	}

	db.failing = false
	count, err := node.Advance(31)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if count != 1 {
		t.Fatalf("advanced %d days", count)
	}
	preview, err := node.PreviewClaimable(alice, testStart+86_400, sale.PoolBuyer)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("claimable after retried advance = %s", preview)
	}
}

func TestBulkBackfillRollsBackOnPersistFailure(t *testing.T) {
	db := &faultDB{Database: storage.NewMemDB()}
	node, _ := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 100)

	db.failing = true
	entries := []BackfillEntry{
		{Account: alice, Quantity: 3, PurchasedAt: testStart + 10, Paid: big.NewInt(975)},
		{Account: carol, Quantity: 7, PurchasedAt: testStart + 86_410, Paid: big.NewInt(2275)},
	}
	if _, err := node.BulkBackfill(entries); err == nil {
		t.Fatal("expected bulk backfill to fail")
	}
	if got := node.BalanceAtDay(alice, 1); got.Sign() != 0 {
		t.Fatalf("alice balance after failed batch = %s", got)
	}
	if got := node.BalanceAtDay(carol, 2); got.Sign() != 0 {
		t.Fatalf("carol balance after failed batch = %s", got)
	}
	if got := node.Totals().UnitsSold; got != 0 {
		t.Fatalf("units sold after failed batch = %d", got)
	}

	db.failing = false
	if _, err := node.BulkBackfill(entries); err != nil {
		t.Fatalf("bulk backfill: %v", err)
	}
	if got := node.BalanceAtDay(carol, 2); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("carol balance after retried batch = %s", got)
	}
}

func TestBulkAssignCodesRollsBackOnPersistFailure(t *testing.T) {
	db := &faultDB{Database: storage.NewMemDB()}
	node, _ := newTestNode(t, db)
	initTestSchedule(t, node, 10, 1000, 100)

	db.failing = true
	entries := []CodeAssignment{
		{Owner: alice, Code: "ALICECD1"},
		{Owner: bob, Code: "BOBCODE1"},
	}
	if err := node.BulkAssignCodes(entries, false); err == nil {
		t.Fatal("expected bulk assign to fail")
	}
	if _, ok := node.ResolveCode("ALICECD1"); ok {
		t.Fatal("code bound after failed batch")
	}

	db.failing = false
	if err := node.BulkAssignCodes(entries, false); err != nil {
		t.Fatalf("bulk assign: %v", err)
	}
	if owner, ok := node.ResolveCode("BOBCODE1"); !ok || owner != bob {
		t.Fatalf("resolve after retried batch = %v %v", owner, ok)
	}
}
