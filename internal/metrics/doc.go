// Package metrics exposes Prometheus metrics for the audio bridge, the
// recognition client, the session and the status server.
package metrics
