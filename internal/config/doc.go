// Package config loads and validates the veil-gateway YAML configuration.
//
// Configuration files support ${VAR_NAME} environment variable expansion and
// Go duration strings for every timing knob. Unset timings fall back to the
// package defaults.
package config
