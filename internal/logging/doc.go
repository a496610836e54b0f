// Package logging builds the process logger from the logging config section.
package logging
