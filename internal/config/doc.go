// Package config loads, normalizes, and validates ballotscan configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// BALLOTSCAN_SERVICE_URL and BALLOTSCAN_MACHINE_ID. A .env file in the state
// directory is read before overrides are applied so kiosk images can ship
// per-unit settings without editing the TOML file.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
