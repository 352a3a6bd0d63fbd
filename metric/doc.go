// Package metric provides Prometheus instrumentation for the robo runtime.
//
// Metrics holds the runtime collectors (message routing, drops, handler
// failures, unit state). Registry owns a private prometheus.Registry so
// tests and multiple runtimes in one process never collide on the global
// default registry.
package metric
