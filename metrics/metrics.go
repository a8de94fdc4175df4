// Package metrics exposes operational counters over a Prometheus scrape
// endpoint, kept on a separate listener so the public API surface never
// serves internals.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsServer serves the /metrics scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr. An empty addr returns a
// server that never starts; callers can treat it uniformly.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return &MetricsServer{
		srv: &http.Server{Addr: addr, Handler: mux},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// IncTxSubmitted counts one received transaction for op.
func IncTxSubmitted(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`web3cupid_tx_submitted_total{op=%q}`, op)).Inc()
}

// IncTxCommitted counts one committed transaction for op.
func IncTxCommitted(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`web3cupid_tx_committed_total{op=%q}`, op)).Inc()
}

// IncTxRejected counts one rejected transaction for op.
func IncTxRejected(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`web3cupid_tx_rejected_total{op=%q}`, op)).Inc()
}

// SetLedgerSeq records the newest committed sequence number.
func SetLedgerSeq(seq uint64) {
	metrics.GetOrCreateCounter(`web3cupid_ledger_seq`).Set(seq)
}

// IncEventSubscribers tracks websocket feed connections.
func IncEventSubscribers() {
	metrics.GetOrCreateCounter(`web3cupid_event_subscribers_total`).Inc()
}
