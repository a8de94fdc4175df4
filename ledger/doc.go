// Package ledger provides the append-only, totally-ordered commit log that
// all authoritative protocol state derives from.
//
// A Log assigns a strictly monotonic sequence number and a commit timestamp
// to every appended record. Components never store authoritative state of
// their own: they rebuild projections by replaying the log and observe new
// commits in order. Three backends are provided: an in-memory log for tests,
// a SQLite log for single-node deployments, and a PostgreSQL log where the
// database's serial assignment provides the total order.
//
// The log stands in for the external consensus substrate: the consensus
// protocol itself is out of scope, only its contract (durable total order,
// atomic commit) is modeled here.
package ledger
