// Package config provides configuration loading and validation for rtmptranscribe.
// Values come from built-in defaults, an optional YAML file, RTMPTRANSCRIBE_*
// environment variables and command-line flags, and are validated per section.
package config
