package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr = "127.0.0.1:9000"

	DefaultColdStartTimeoutMS = 10000
	DefaultInvocationTimeout  = 30 * time.Second
	DefaultTimeoutGrace       = 50 * time.Millisecond

	DefaultEngine      = "dynamodb"
	DefaultDataDir     = "/tmp/snapfn/data"
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 50 * time.Millisecond
	DefaultMaxBackoff  = time.Second

	DefaultSnapshotMode = "auto"
	DefaultSnapshotDir  = "/tmp/snapfn/images"
	DefaultSnapshotKeep = 3

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeSection{
			ColdStartTimeoutMS: DefaultColdStartTimeoutMS,
			InvocationTimeout:  DefaultInvocationTimeout,
			TimeoutGrace:       DefaultTimeoutGrace,
		},
		Store: StoreSection{
			Engine:      DefaultEngine,
			DataDir:     DefaultDataDir,
			MaxAttempts: DefaultMaxAttempts,
			BaseBackoff: DefaultBaseBackoff,
			MaxBackoff:  DefaultMaxBackoff,
		},
		Snapshot: SnapshotSection{
			Mode: DefaultSnapshotMode,
			Dir:  DefaultSnapshotDir,
			Keep: DefaultSnapshotKeep,
		},
		Server: ServerSection{
			HTTP: HTTPConfig{Addr: DefaultHTTPAddr},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
