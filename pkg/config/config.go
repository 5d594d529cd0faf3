// Package config loads engine-wide configuration for the runbook executor
// binary from environment variables, 12-factor style.
package config

import (
	"os"
	"strconv"
)

// Config holds process-level configuration for cmd/helm-runbook. Per-runbook
// settings (max_concurrency, cost_limit, timeout) live in the runbook YAML
// itself and are not duplicated here.
type Config struct {
	LogLevel string

	// RegistryPluginDir is loaded from RUNBOOK_PLUGIN_DIR. Nothing scans it:
	// cmd/helm-runbook registers only its in-process components.
	RegistryPluginDir string

	// MeteringDatabaseURL, if set, backs pkg/metering with a PostgresMeter;
	// when empty, metering is disabled.
	MeteringDatabaseURL string

	// OTLPEndpoint and OTLPInsecure configure pkg/observability.
	OTLPEndpoint string
	OTLPInsecure bool

	// AuditLogPath, if set, sends audit events to an in-memory, hash-chained
	// pkg/store AuditStore instead of the stdout logger. The path itself is
	// not read or written.
	AuditLogPath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	pluginDir := os.Getenv("RUNBOOK_PLUGIN_DIR")
	if pluginDir == "" {
		pluginDir = "./plugins"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	otlpInsecure, _ := strconv.ParseBool(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))

	return &Config{
		LogLevel:            logLevel,
		RegistryPluginDir:   pluginDir,
		MeteringDatabaseURL: os.Getenv("METERING_DATABASE_URL"),
		OTLPEndpoint:        otlpEndpoint,
		OTLPInsecure:        otlpInsecure,
		AuditLogPath:        os.Getenv("AUDIT_LOG_PATH"),
	}
}
