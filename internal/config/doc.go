// Package config provides configuration loading and validation for the quote service.
// It handles YAML-based configuration layered over built-in defaults, with command-line
// overrides for the IP version and port.
package config
