// Package session drives one transcription session: audio batches flow from
// the bridge to the recognizer, results flow to the renderer, and the session
// state is tracked for the status server.
package session
