// Package api exposes the agent over HTTP: synchronous execution, the
// asynchronous task queue, wallet information and Prometheus metrics. The
// /api/v1 routes are guarded by internal/auth when API tokens are configured.
package api
