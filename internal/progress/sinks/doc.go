// Package sinks contains progress sinks: structured logs, Prometheus
// collectors and the in-memory run tracker served by the operator API.
package sinks
