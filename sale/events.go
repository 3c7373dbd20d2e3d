package sale

// Event type constants emitted by the node for observers.
const (
	EventPurchased      = "sale.purchased"
	EventBackfilled     = "sale.backfilled"
	EventTransferred    = "sale.transferred"
	EventDayFinalized   = "sale.day_finalized"
	EventClaimed        = "sale.claimed"
	EventBuybackClaimed = "sale.buyback_claimed"
	EventCodeAssigned   = "sale.code_assigned"
	EventPaused         = "sale.paused"
	EventResumed        = "sale.resumed"
)

// Event is an in-process record of a completed state change.
type Event struct {
	Type       string
	Attributes map[string]string
}
