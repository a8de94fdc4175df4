// Package httpserver provides the reusable HTTP server base for the node's
// public API.
//
// BaseServer wires standard middleware, health endpoints, graceful shutdown
// and an optional metrics listener around component-specific routes. A
// component implements RouteRegistrar and hands itself to New; the base
// server owns everything else of the HTTP lifecycle.
//
// All servers built on BaseServer automatically include:
//
//   - Liveness check (/livez) and readiness check (/readyz)
//   - Drain control for load balancers (/drain, /undrain)
//   - Optional Prometheus-compatible metrics on a separate listener
//   - Optional pprof debugging endpoints
//
// Readiness flips to not-ready on /drain, waits out the configured drain
// duration so load balancers notice, then Shutdown waits for in-flight
// requests before closing.
package httpserver
