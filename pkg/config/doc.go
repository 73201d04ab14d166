// Package config loads service configuration from BACKOFFICE_* environment
// variables with sane defaults, and validates the combination before the
// service starts.
package config
