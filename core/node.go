package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"vestd/observability"
	"vestd/sale"
	"vestd/sale/ledger"
	"vestd/sale/pricing"
	"vestd/sale/referral"
	"vestd/sale/schedule"
	"vestd/state"
)

const defaultMaxEvents = 256

// TierNotifier is invoked after a checkpoint update with the account's new
// cumulative unit total. Presentation-layer tier upgrades hang off this hook;
// the ledger itself carries no tier state.
type TierNotifier interface {
	NotifyTier(addr sale.Address, cumulativeUnits *big.Int)
}

// Config carries the immutable program parameters.
type Config struct {
	// Start is the program epoch; day indices count from it.
	Start int64
	// Policy picks the day-zero denominator (see ledger.DenominatorPolicy).
	Policy ledger.DenominatorPolicy
	// BuybackPercent of each referred payment is credited to the referrer.
	BuybackPercent uint64
	// PayoutQuantum floors claim payouts to the external precision.
	PayoutQuantum *big.Int
	// Bands and CapPrice define the pricing curve.
	Bands    []pricing.Band
	CapPrice *big.Int
	// MaxEvents caps the in-memory event buffer; zero means the default.
	MaxEvents int
}

// Node is the single logical writer over the sale ledgers. Every mutating
// operation applies atomically under one lock and is persisted before it
// returns; reads take the shared lock and never mutate.
type Node struct {
	mu sync.RWMutex

	cfg    Config
	curve  *pricing.Curve
	sched  *schedule.Schedule
	led    *ledger.Ledger
	refs   *referral.Ledger
	st     *state.Manager
	logger *slog.Logger

	notifier TierNotifier
	recorder AuditRecorder
	now      func() time.Time

	paused    bool
	unitsSold uint64
	events    []sale.Event
}

// Option customises node construction.
type Option func(*Node)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// WithNotifier attaches the tier notification hook.
func WithNotifier(notifier TierNotifier) Option {
	return func(n *Node) { n.notifier = notifier }
}

// WithRecorder attaches the audit history recorder.
func WithRecorder(recorder AuditRecorder) Option {
	return func(n *Node) { n.recorder = recorder }
}

// WithClock overrides the time source, used by tests and replay tooling.
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// NewNode builds a node over the persistence manager, restoring any state a
// previous run left behind.
func NewNode(cfg Config, st *state.Manager, opts ...Option) (*Node, error) {
	if cfg.Start < 0 {
		return nil, fmt.Errorf("%w: negative start", sale.ErrInvalidTimestamp)
	}
	if cfg.BuybackPercent > 100 {
		return nil, fmt.Errorf("buyback percent %d out of range", cfg.BuybackPercent)
	}
	curve, err := pricing.NewCurve(cfg.Bands, cfg.CapPrice)
	if err != nil {
		return nil, err
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	n := &Node{
		cfg:    cfg,
		curve:  curve,
		st:     st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if err := n.restore(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) restore() error {
	meta, ok, err := n.st.LoadMeta()
	if err != nil {
		return err
	}
	if !ok {
		n.sched = schedule.New(n.cfg.Start)
		n.led = ledger.NewLedger(n.cfg.Start, n.cfg.Policy)
		n.refs = referral.NewLedger()
		return n.persistMeta()
	}
	if meta.Start != n.cfg.Start || meta.Policy != n.cfg.Policy {
		return fmt.Errorf("%w: stored program parameters differ from configuration", sale.ErrStateCorrupt)
	}
	n.paused = meta.Paused
	n.unitsSold = meta.UnitsSold

	n.sched = schedule.New(n.cfg.Start)
	if meta.ScheduleSet {
		tranches, ok, err := n.st.LoadSchedule()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: schedule flagged but missing", sale.ErrStateCorrupt)
		}
		ends := make([]int64, len(tranches))
		buyers := make([]*big.Int, len(tranches))
		referrers := make([]*big.Int, len(tranches))
		for i, tranche := range tranches {
			ends[i] = tranche.End
			buyers[i] = tranche.BuyerPool
			referrers[i] = tranche.ReferrerPool
		}
		if err := n.sched.Initialize(ends, buyers, referrers); err != nil {
			return fmt.Errorf("%w: %v", sale.ErrStateCorrupt, err)
		}
	}

	snap := &ledger.Snapshot{Start: n.cfg.Start, Policy: n.cfg.Policy}
	for day := uint64(0); day < meta.FinalizedDays; day++ {
		rec, ok, err := n.st.LoadFinalized(day)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: missing finalized day %d", sale.ErrStateCorrupt, day)
		}
		snap.Finalized = append(snap.Finalized, rec)
	}
	if snap.Added, err = n.st.LoadAdded(); err != nil {
		return err
	}
	accounts, err := n.st.LoadAccounts()
	if err != nil {
		return err
	}
	var buybacks []referral.BuybackEntry
	for addr, rec := range accounts {
		snap.Accounts = append(snap.Accounts, ledger.AccountSnapshot{
			Addr:            addr,
			Units:           rec.Units,
			ReferralUnits:   rec.ReferralUnits,
			ClaimedBuyer:    rec.ClaimedBuyer,
			ClaimedReferrer: rec.ClaimedReferrer,
		})
		if rec.Buyback != nil && rec.Buyback.Sign() > 0 {
			buybacks = append(buybacks, referral.BuybackEntry{Owner: addr, Balance: rec.Buyback})
		}
	}
	if n.led, err = ledger.FromSnapshot(snap); err != nil {
		return err
	}
	codes, err := n.st.LoadCodes()
	if err != nil {
		return err
	}
	if n.refs, err = referral.Restore(codes, buybacks); err != nil {
		return err
	}
	return nil
}

func (n *Node) persistMeta() error {
	return n.st.SaveMeta(state.Meta{
		Start:         n.cfg.Start,
		Policy:        n.cfg.Policy,
		Paused:        n.paused,
		UnitsSold:     n.unitsSold,
		FinalizedDays: n.led.LastFinalizedDay(),
		ScheduleSet:   n.sched.Initialized(),
	})
}

func (n *Node) persistAccount(addr sale.Address) error {
	rec := state.AccountRecord{
		Units:           n.led.UnitEntries(addr),
		ReferralUnits:   n.led.ReferralEntries(addr),
		ClaimedBuyer:    n.led.ClaimedAmount(addr, sale.PoolBuyer),
		ClaimedReferrer: n.led.ClaimedAmount(addr, sale.PoolReferrer),
		Buyback:         n.refs.BuybackBalance(addr),
	}
	return n.st.SaveAccount(addr, rec)
}

func (n *Node) emit(eventType string, attrs map[string]string) {
	n.events = append(n.events, sale.Event{Type: eventType, Attributes: attrs})
	if len(n.events) > n.cfg.MaxEvents {
		n.events = n.events[len(n.events)-n.cfg.MaxEvents:]
	}
	observability.Sale().EventEmitted(eventType)
}

// Events returns a copy of the buffered events, oldest first.
func (n *Node) Events() []sale.Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]sale.Event, len(n.events))
	copy(out, n.events)
	return out
}

// Totals is the operator-facing global summary.
type Totals struct {
	UnitsSold          uint64
	LastFinalizedDay   uint64
	CurrentDay         uint64
	CumulativeUnits    *big.Int
	CumulativeReferral *big.Int
	Paused             bool
}

// Totals reports the global counters and the latest frozen cumulative
// totals.
func (n *Node) Totals() Totals {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := Totals{
		UnitsSold:          n.unitsSold,
		LastFinalizedDay:   n.led.LastFinalizedDay(),
		CurrentDay:         n.led.CurrentDay(n.now().Unix()),
		CumulativeUnits:    new(big.Int),
		CumulativeReferral: new(big.Int),
		Paused:             n.paused,
	}
	if last := n.led.LastFinalizedDay(); last > 0 {
		if rec, ok := n.led.FinalizedAt(last - 1); ok {
			out.CumulativeUnits = rec.CumUnits
			out.CumulativeReferral = rec.CumReferralUnits
		}
	}
	return out
}

// Paused reports whether mutating participant operations are suspended.
func (n *Node) Paused() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.paused
}
