package metrics

import (
	"fmt"
	"io"
	"net/http"
)

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	lines := []string{
		"# HELP fakelag_packets_received_total Datagrams received, by relay direction.",
		"# TYPE fakelag_packets_received_total counter",
		fmt.Sprintf("fakelag_packets_received_total{direction=%q} %d", ToServer, snap.ReceivedToServer),
		fmt.Sprintf("fakelag_packets_received_total{direction=%q} %d", ToClient, snap.ReceivedToClient),
		"# HELP fakelag_packets_relayed_total Datagrams transmitted after their delay elapsed, by direction.",
		"# TYPE fakelag_packets_relayed_total counter",
		fmt.Sprintf("fakelag_packets_relayed_total{direction=%q} %d", ToServer, snap.RelayedToServer),
		fmt.Sprintf("fakelag_packets_relayed_total{direction=%q} %d", ToClient, snap.RelayedToClient),
		"# HELP fakelag_packets_lost_total Datagrams dropped by the loss probability, by direction.",
		"# TYPE fakelag_packets_lost_total counter",
		fmt.Sprintf("fakelag_packets_lost_total{direction=%q} %d", ToServer, snap.LossDropsToServer),
		fmt.Sprintf("fakelag_packets_lost_total{direction=%q} %d", ToClient, snap.LossDropsToClient),
		"# HELP fakelag_queue_overflow_total Datagrams rejected because a delay queue hit its depth cap.",
		"# TYPE fakelag_queue_overflow_total counter",
		fmt.Sprintf("fakelag_queue_overflow_total{direction=%q} %d", ToServer, snap.OverflowsToServer),
		fmt.Sprintf("fakelag_queue_overflow_total{direction=%q} %d", ToClient, snap.OverflowsToClient),
		"# HELP fakelag_queue_depth_number Datagrams currently held in a delay queue.",
		"# TYPE fakelag_queue_depth_number gauge",
		fmt.Sprintf("fakelag_queue_depth_number{direction=%q} %d", ToServer, snap.DepthToServer),
		fmt.Sprintf("fakelag_queue_depth_number{direction=%q} %d", ToClient, snap.DepthToClient),
		"# HELP fakelag_rate_drops_total Datagrams dropped by the send-rate governor.",
		"# TYPE fakelag_rate_drops_total counter",
		fmt.Sprintf("fakelag_rate_drops_total %d", snap.RateDrops),
		"# HELP fakelag_stale_drops_total Delayed datagrams discarded because their session was gone at release time.",
		"# TYPE fakelag_stale_drops_total counter",
		fmt.Sprintf("fakelag_stale_drops_total %d", snap.StaleDrops),
		"# HELP fakelag_send_errors_total Transmit errors; the affected datagram is dropped.",
		"# TYPE fakelag_send_errors_total counter",
		fmt.Sprintf("fakelag_send_errors_total %d", snap.SendErrors),
		"# HELP fakelag_recv_errors_total Non-timeout receive errors across all sockets.",
		"# TYPE fakelag_recv_errors_total counter",
		fmt.Sprintf("fakelag_recv_errors_total %d", snap.RecvErrors),
		"# HELP fakelag_active_sessions_number Client sessions currently tracked by the registry.",
		"# TYPE fakelag_active_sessions_number gauge",
		fmt.Sprintf("fakelag_active_sessions_number %d", snap.ActiveSessions),
		"# HELP fakelag_sessions_created_total Sessions created since startup.",
		"# TYPE fakelag_sessions_created_total counter",
		fmt.Sprintf("fakelag_sessions_created_total %d", snap.SessionsCreated),
		"# HELP fakelag_sessions_evicted_total Sessions evicted after the idle timeout.",
		"# TYPE fakelag_sessions_evicted_total counter",
		fmt.Sprintf("fakelag_sessions_evicted_total %d", snap.SessionsEvicted),
		"# HELP fakelag_sessions_rejected_total Datagrams from new clients rejected by the session cap.",
		"# TYPE fakelag_sessions_rejected_total counter",
		fmt.Sprintf("fakelag_sessions_rejected_total %d", snap.SessionsRejected),
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
