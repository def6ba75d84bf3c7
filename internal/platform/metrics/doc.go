// Package metrics exports task coordinator metrics to Prometheus.
package metrics
