// Package config loads the daemon configuration from JSON or YAML files with
// DOCMCP_* environment overrides, and parses the task subsystem's literal
// command-line flags. Invalid settings are fatal at startup.
package config
