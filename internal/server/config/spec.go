// Package config defines the runtime configuration structure.
package config

import "time"

// Config is the root configuration for snapfn.
type Config struct {
	Runtime  RuntimeSection  `koanf:"runtime" yaml:"runtime"`
	Store    StoreSection    `koanf:"store" yaml:"store"`
	Snapshot SnapshotSection `koanf:"snapshot" yaml:"snapshot"`
	Server   ServerSection   `koanf:"server" yaml:"server"`
	Log      LogSection      `koanf:"log" yaml:"log"`
}

// RuntimeSection configures the execution environment.
type RuntimeSection struct {
	// FunctionName is reported in logs. The platform sets it in Lambda.
	FunctionName string `koanf:"function_name" yaml:"function_name"`

	// ColdStartTimeoutMS bounds initialization and restore.
	ColdStartTimeoutMS int `koanf:"cold_start_timeout_ms" yaml:"cold_start_timeout_ms"`

	// InvocationTimeout is the budget for events without a platform deadline.
	InvocationTimeout time.Duration `koanf:"invocation_timeout" yaml:"invocation_timeout"`

	// TimeoutGrace is reserved before the platform deadline.
	TimeoutGrace time.Duration `koanf:"timeout_grace" yaml:"timeout_grace"`
}

// ColdStartTimeout returns ColdStartTimeoutMS as a duration.
func (r RuntimeSection) ColdStartTimeout() time.Duration {
	return time.Duration(r.ColdStartTimeoutMS) * time.Millisecond
}

// StoreSection configures the durable state backend.
type StoreSection struct {
	// Engine is one of dynamodb, badger, memory.
	Engine string `koanf:"engine" yaml:"engine"`

	TableName string `koanf:"table_name" yaml:"table_name"`
	Region    string `koanf:"region" yaml:"region"`
	Endpoint  string `koanf:"endpoint" yaml:"endpoint"`

	// DataDir is used by the badger engine.
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	ConsistentReads bool `koanf:"consistent_reads" yaml:"consistent_reads"`

	MaxAttempts int           `koanf:"max_attempts" yaml:"max_attempts"`
	BaseBackoff time.Duration `koanf:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff" yaml:"max_backoff"`

	// RateLimit caps store operations per second. Zero disables it.
	RateLimit float64 `koanf:"rate_limit" yaml:"rate_limit"`
}

// SnapshotSection configures snapshot images.
type SnapshotSection struct {
	// Mode is auto or off. Off never persists or resumes images.
	Mode string `koanf:"mode" yaml:"mode"`

	Dir  string `koanf:"dir" yaml:"dir"`
	Keep int    `koanf:"keep" yaml:"keep"`

	// EncryptionKey is a hex master key. Empty stores images in plain.
	EncryptionKey string `koanf:"encryption_key" yaml:"encryption_key"`
}

// ServerSection configures the local emulator.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http" yaml:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}
