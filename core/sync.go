package core

import (
	"strconv"

	"vestd/observability"
	"vestd/sale"
)

// Advance finalizes up to maxDays fully-elapsed days in strict order. This is
// the only operation that moves the last-finalized-day pointer. It returns
// the number of days finalized; zero eligible days is a no-op, not an error.
func (n *Node) Advance(maxDays uint64) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.sched.Initialized() {
		return 0, sale.ErrScheduleNotSet
	}
	before := n.led.LastFinalizedDay()
	outcomes := n.led.Advance(n.now().Unix(), maxDays, n.sched)
	if len(outcomes) == 0 {
		return 0, nil
	}
	// Save everything before announcing anything; on failure the rewound
	// ledger recomputes the same results next time, so any day records
	// written before the failure are rewritten identically.
	for _, outcome := range outcomes {
		if err := n.st.SaveFinalized(outcome.Day, outcome.Result); err != nil {
			n.led.Rewind(before)
			return 0, err
		}
	}
	if err := n.persistMeta(); err != nil {
		n.led.Rewind(before)
		return 0, err
	}
	for _, outcome := range outcomes {
		n.emit(sale.EventDayFinalized, map[string]string{
			"day":             strconv.FormatUint(outcome.Day, 10),
			"buyerPerUnit":    outcome.Result.BuyerPerUnit.String(),
			"referrerPerUnit": outcome.Result.ReferrerPerUnit.String(),
			"cumUnits":        outcome.Result.CumUnits.String(),
		})
	}
	observability.Sale().DaysFinalized(uint64(len(outcomes)))
	n.logger.Info("finalized days",
		"count", len(outcomes),
		"lastFinalizedDay", n.led.LastFinalizedDay(),
	)
	return uint64(len(outcomes)), nil
}
