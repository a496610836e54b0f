// Package render prints recognition results to a terminal. Interim hypotheses
// overwrite the current line, final results are committed with a newline, and
// a final result containing an exit keyword ends the session.
package render
