package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"moovemarket/core/events"
	"moovemarket/native/market"
)

// MarketMetrics tracks marketplace activity for operators. Counters are fed
// by the event stream so the engine itself stays metrics-free.
type MarketMetrics struct {
	mints       prometheus.Counter
	purchases   prometheus.Counter
	bids        prometheus.Counter
	settlements prometheus.Counter
	withdrawals prometheus.Counter
	eventsTotal *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the lazily-initialised marketplace metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			mints: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "moove",
				Subsystem: "market",
				Name:      "mints_total",
				Help:      "Count of items minted.",
			}),
			purchases: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "moove",
				Subsystem: "market",
				Name:      "purchases_total",
				Help:      "Count of completed fixed-price purchases.",
			}),
			bids: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "moove",
				Subsystem: "market",
				Name:      "bids_total",
				Help:      "Count of accepted auction bids.",
			}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "moove",
				Subsystem: "market",
				Name:      "settlements_total",
				Help:      "Count of settled auctions, with or without a winner.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "moove",
				Subsystem: "market",
				Name:      "withdrawals_total",
				Help:      "Count of successful escrow withdrawals.",
			}),
			eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "moove",
				Subsystem: "market",
				Name:      "events_total",
				Help:      "Count of emitted engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			marketRegistry.mints,
			marketRegistry.purchases,
			marketRegistry.bids,
			marketRegistry.settlements,
			marketRegistry.withdrawals,
			marketRegistry.eventsTotal,
		)
	})
	return marketRegistry
}

// RecordWithdrawal increments the withdrawal counter. Withdrawals have no
// engine event, so the RPC layer reports them directly.
func (m *MarketMetrics) RecordWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

func (m *MarketMetrics) record(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.eventsTotal.WithLabelValues(eventType).Inc()
	switch eventType {
	case market.EventTypeMinted:
		m.mints.Inc()
	case market.EventTypeBought:
		m.purchases.Inc()
	case market.EventTypeBidPlaced:
		m.bids.Inc()
	case market.EventTypeAuctionEnded:
		m.settlements.Inc()
	}
}

type emitter struct {
	registry *MarketMetrics
}

// Emitter returns an events.Emitter that feeds the marketplace metrics.
// Compose it with other emitters via events.Multi.
func Emitter() events.Emitter {
	return emitter{registry: Market()}
}

// Emit implements the events.Emitter interface.
func (e emitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	e.registry.record(evt.EventType())
}
