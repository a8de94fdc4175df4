// Package server exposes a node over HTTP: signed transaction submission on
// POST /api/tx/{op}, the read surface on GET endpoints, sealed private reads
// on permit-carrying POSTs and a websocket feed of committed transactions on
// /api/events.
package server
