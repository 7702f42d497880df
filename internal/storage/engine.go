package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/yndnr/snapfn-go/internal/core/service"
	"github.com/yndnr/snapfn-go/internal/storage/dynamo"
	"github.com/yndnr/snapfn-go/internal/storage/memory"
)

// Engine names.
const (
	EngineMemory   = "memory"
	EngineBadger   = "badger"
	EngineDynamoDB = "dynamodb"
)

// Reconnector is implemented by backends holding process-bound resources.
type Reconnector interface {
	// Release closes handles so none is captured in a snapshot image.
	Release(ctx context.Context) error
	// Reconnect reacquires them after restore.
	Reconnect(ctx context.Context) error
}

// Exporter is implemented by backends whose contents can be carried
// inside a snapshot image.
type Exporter interface {
	Export() ([]byte, error)
	Import(data []byte) error
}

// Config configures the durable state backend.
type Config struct {
	// Engine is one of memory, badger, dynamodb.
	Engine string

	// DataDir is the base directory for the badger engine.
	DataDir string

	Badger BadgerConfig
	Dynamo dynamo.Config

	Logger *slog.Logger
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig(dataDir string) Config {
	return Config{
		Engine:  EngineDynamoDB,
		DataDir: dataDir,
		Badger:  DefaultBadgerConfig(filepath.Join(dataDir, "state")),
		Logger:  slog.Default(),
	}
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (service.StateRepository, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("engine", cfg.Engine)

	switch strings.ToLower(cfg.Engine) {
	case EngineMemory:
		return memory.New(), nil

	case EngineBadger:
		if cfg.Badger.Dir == "" {
			if cfg.DataDir == "" {
				return nil, fmt.Errorf("storage: data_dir is required for badger")
			}
			cfg.Badger.Dir = filepath.Join(cfg.DataDir, "state")
		}
		return NewBadgerStore(cfg.Badger, logger)

	case EngineDynamoDB:
		return dynamo.New(ctx, cfg.Dynamo, logger)

	default:
		return nil, fmt.Errorf("storage: unknown engine %q", cfg.Engine)
	}
}
