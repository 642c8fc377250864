// Package health provides the liveness and readiness probes served on the
// admin listener.
//
// Probes compose with [All]. [Gate] fails readiness while the process
// drains, and [Capacity] fails it while a bounded in-memory table (the rate
// limiter's client records) is full, so the load balancer can move new
// clients to another instance.
package health
