package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/yndnr/snapfn-go/internal/storage/snapshot"
)

// Verify validates the configuration. All problems are reported together.
func Verify(cfg *Config) error {
	return errors.Join(
		verifyRuntime(&cfg.Runtime),
		verifyStore(&cfg.Store),
		verifySnapshot(&cfg.Snapshot),
		verifyServer(&cfg.Server),
		verifyLog(&cfg.Log),
	)
}

func verifyRuntime(cfg *RuntimeSection) error {
	var errs []error
	if cfg.ColdStartTimeoutMS <= 0 {
		errs = append(errs, errors.New("runtime.cold_start_timeout_ms must be positive"))
	}
	if cfg.InvocationTimeout <= 0 {
		errs = append(errs, errors.New("runtime.invocation_timeout must be positive"))
	}
	if cfg.TimeoutGrace < 0 {
		errs = append(errs, errors.New("runtime.timeout_grace must not be negative"))
	}
	return errors.Join(errs...)
}

func verifyStore(cfg *StoreSection) error {
	var errs []error
	switch strings.ToLower(cfg.Engine) {
	case "dynamodb":
		if cfg.TableName == "" {
			errs = append(errs, errors.New("store.table_name is required for the dynamodb engine"))
		}
	case "badger":
		if cfg.DataDir == "" {
			errs = append(errs, errors.New("store.data_dir is required for the badger engine"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.engine %q is not one of dynamodb, badger, memory", cfg.Engine))
	}

	if cfg.MaxAttempts < 1 {
		errs = append(errs, errors.New("store.max_attempts must be at least 1"))
	}
	if cfg.BaseBackoff < 0 || cfg.MaxBackoff < cfg.BaseBackoff {
		errs = append(errs, errors.New("store.max_backoff must be at least store.base_backoff"))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, errors.New("store.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

func verifySnapshot(cfg *SnapshotSection) error {
	var errs []error
	switch cfg.Mode {
	case "auto":
		if cfg.Dir == "" {
			errs = append(errs, errors.New("snapshot.dir is required when snapshot.mode is auto"))
		}
	case "off":
	default:
		errs = append(errs, fmt.Errorf("snapshot.mode %q is not one of auto, off", cfg.Mode))
	}
	if cfg.Keep < 1 {
		errs = append(errs, errors.New("snapshot.keep must be at least 1"))
	}
	if _, err := snapshot.ParseKey(cfg.EncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("snapshot.encryption_key: %w", err))
	}
	return errors.Join(errs...)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		return fmt.Errorf("server.http.addr: %w", err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text", "console":
	default:
		return fmt.Errorf("log.format %q is not one of json, text, console", cfg.Format)
	}
	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level)
	}
	return nil
}
