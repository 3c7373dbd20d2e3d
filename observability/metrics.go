package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics instruments the distribution ledger.
type SaleMetrics struct {
	purchases     prometheus.Counter
	unitsSold     prometheus.Counter
	daysFinalized prometheus.Counter
	claims        *prometheus.CounterVec
	claimAmount   *prometheus.CounterVec
	events        *prometheus.CounterVec
	rpcRequests   *prometheus.CounterVec
	rpcLatency    *prometheus.HistogramVec
}

var (
	saleOnce     sync.Once
	saleRegistry *SaleMetrics
)

// Sale returns the lazily-initialised ledger metrics registry.
func Sale() *SaleMetrics {
	saleOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			purchases: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestd",
				Subsystem: "sale",
				Name:      "purchases_total",
				Help:      "Total purchases recorded, including backfills.",
			}),
			unitsSold: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestd",
				Subsystem: "sale",
				Name:      "units_sold_total",
				Help:      "Total allocation units sold.",
			}),
			daysFinalized: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestd",
				Subsystem: "sale",
				Name:      "days_finalized_total",
				Help:      "Total program days finalized by the accrual engine.",
			}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestd",
				Subsystem: "sale",
				Name:      "claims_total",
				Help:      "Total successful claims segmented by pool.",
			}, []string{"pool"}),
			claimAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestd",
				Subsystem: "sale",
				Name:      "claim_amount_total",
				Help:      "Total amount paid out segmented by pool, in base units.",
			}, []string{"pool"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestd",
				Subsystem: "sale",
				Name:      "events_total",
				Help:      "Ledger events emitted segmented by type.",
			}, []string{"type"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestd",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vestd",
				Subsystem: "rpc",
				Name:      "request_seconds",
				Help:      "JSON-RPC request latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			saleRegistry.purchases,
			saleRegistry.unitsSold,
			saleRegistry.daysFinalized,
			saleRegistry.claims,
			saleRegistry.claimAmount,
			saleRegistry.events,
			saleRegistry.rpcRequests,
			saleRegistry.rpcLatency,
		)
	})
	return saleRegistry
}

// PurchaseRecorded counts one purchase of the given size.
func (m *SaleMetrics) PurchaseRecorded(quantity uint64) {
	if m == nil {
		return
	}
	m.purchases.Inc()
	m.unitsSold.Add(float64(quantity))
}

// DaysFinalized counts finalized days.
func (m *SaleMetrics) DaysFinalized(count uint64) {
	if m == nil {
		return
	}
	m.daysFinalized.Add(float64(count))
}

// ClaimPaid counts a successful claim and its payout amount.
func (m *SaleMetrics) ClaimPaid(pool string, amount *big.Int) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(pool).Inc()
	if amount != nil {
		value, _ := new(big.Float).SetInt(amount).Float64()
		m.claimAmount.WithLabelValues(pool).Add(value)
	}
}

// EventEmitted counts one ledger event by type.
func (m *SaleMetrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// ObserveRPC records one JSON-RPC request with its latency.
func (m *SaleMetrics) ObserveRPC(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}
