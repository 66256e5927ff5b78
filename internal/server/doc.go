// Package server implements the optional monitoring HTTP API: health, live
// component statistics, the redacted configuration and Prometheus metrics.
package server
