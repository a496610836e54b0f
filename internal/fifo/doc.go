// Package fifo manages the named pipe the transcoder writes decoded PCM into.
package fifo
