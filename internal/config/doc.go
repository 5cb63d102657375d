// Package config loads and validates the accordd YAML configuration.
//
// Values in the form ${VAR_NAME} are expanded from the environment before
// parsing, and duration fields accept Go duration strings ("30s", "5m").
package config
