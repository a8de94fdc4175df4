// Package cmd holds the web3cupid binaries.
//
// # Commands
//
// server: Runs a node. Replays the ledger, serves the transaction and query
// API and streams committed events over websocket. Configured through
// environment variables, optionally loaded from a .env file.
//
//	go run ./cmd/server
//	LEDGER_BACKEND=sqlite SQLITE_PATH=cupid.db GATEWAY_KEY=<64 hex> go run ./cmd/server
//
// demo-cli: Runs the full matching lifecycle against an in-process node and
// prints each step, including the operations the node refuses.
//
//	go run ./cmd/demo-cli
//	go run ./cmd/demo-cli --keep-alive
package cmd
