// Package config loads the transcriber configuration from an optional YAML
// file, a .env file and TRANSCRIBER_* environment variables, in that order,
// and validates the result.
package config
