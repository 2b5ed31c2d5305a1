// Package config loads the YAML configuration file, expanding
// ${VAR_NAME} references from the environment and parsing duration
// strings into time.Duration values.
package config
