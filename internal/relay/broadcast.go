package relay

import "encoding/json"

// Broadcast delivers env to every connection registered in roomID. Delivery
// is best effort: connections that fail are pruned and the pass continues.
// An unknown or empty room is a no-op.
func (r *Relay) Broadcast(roomID string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("Failed to encode envelope", "room", roomID, "error", err)
		return
	}

	rm := r.lookup(roomID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return
	}
	r.broadcastLocked(rm, payload)
}

// announceLocked broadcasts a system envelope while the caller already
// holds rm.mu.
func (r *Relay) announceLocked(rm *room, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("Failed to encode envelope", "room", rm.id, "error", err)
		return
	}
	r.broadcastLocked(rm, payload)
}

// broadcastLocked fans payload out to rm's connections and prunes the ones
// that fail. The caller holds rm.mu, which serializes broadcasts per room and
// keeps delivery FIFO for each recipient.
func (r *Relay) broadcastLocked(rm *room, payload []byte) {
	if len(rm.conns) == 0 {
		return
	}
	r.metrics.Broadcasts.Inc()

	failed := r.deliverAll(rm, payload)
	if len(failed) == 0 {
		return
	}
	r.pruneLocked(rm, failed)
}

func (r *Relay) deliverAll(rm *room, payload []byte) []Conn {
	var failed []Conn
	for _, c := range rm.conns {
		if err := c.Deliver(payload); err != nil {
			r.metrics.DeliveryFailures.Inc()
			r.logger.Debug("Delivery failed", "room", rm.id, "error", err)
			failed = append(failed, c)
			continue
		}
		r.metrics.Deliveries.Inc()
	}
	return failed
}

// pruneLocked removes failed connections from the registry and the
// membership set together, then closes them so their read loops deregister.
// The departure announcement is left to that deregistration.
func (r *Relay) pruneLocked(rm *room, failed []Conn) {
	for _, c := range failed {
		rm.removeConn(c)
		rm.pruned[c] = struct{}{}
		r.metrics.ConnectionsActive.Dec()
		if err := c.Close(); err != nil {
			r.logger.Debug("Error closing pruned connection", "room", rm.id, "error", err)
		}
	}
	r.logger.Info("Pruned dead connections", "room", rm.id, "count", len(failed), "remaining", len(rm.conns))

	if rm.empty() {
		r.dropLocked(rm)
		r.logger.Info("Room removed", "room", rm.id, "reason", "pruned")
	}
}
