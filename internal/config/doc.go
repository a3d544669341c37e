// Package config loads the JSON or YAML configuration file, overlays STANDUP_*
// environment variables and publishes validated reloads to subscribers.
package config
