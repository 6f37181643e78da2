package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	RoomsActive       prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	Broadcasts        prometheus.Counter
	Deliveries        prometheus.Counter
	DeliveryFailures  prometheus.Counter
	JoinsRejected     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "rooms_active",
			Help:      "Rooms currently present in the directory.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "connections_active",
			Help:      "Connections currently registered across all rooms.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "broadcasts_total",
			Help:      "Envelopes fanned out to a room.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "deliveries_total",
			Help:      "Successful per-recipient deliveries.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "delivery_failures_total",
			Help:      "Per-recipient deliveries that failed and pruned the connection.",
		}),
		JoinsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "joins_rejected_total",
			Help:      "Join requests and registrations that were refused, by reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RoomsActive,
			m.ConnectionsActive,
			m.Broadcasts,
			m.Deliveries,
			m.DeliveryFailures,
			m.JoinsRejected,
		)
	}
	return m
}

func rejectReason(err error) string {
	switch err {
	case ErrWrongPassword:
		return "wrong_password"
	case ErrUsernameTaken:
		return "username_taken"
	case ErrRoomNotFound:
		return "room_not_found"
	default:
		return "other"
	}
}
