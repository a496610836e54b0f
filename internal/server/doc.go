// Package server implements the optional HTTP status server: health, session
// and pipeline statistics, the effective configuration and Prometheus metrics.
package server
