package blobstore

import (
	"context"
	"fmt"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverS3     = "s3"
)

// ValidDrivers lists the driver names accepted by Open.
var ValidDrivers = []string{DriverMemory, DriverFile, DriverSQLite, DriverRedis, DriverS3}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of ValidDrivers. Empty means memory.
	Driver string

	// Path is the directory for the file driver and the database path for sqlite.
	Path string

	Redis RedisConfig
	S3    S3Config
}

// Open creates the Storage named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		return storageOrNil(NewFile(cfg.Path))
	case DriverSQLite:
		return storageOrNil(OpenSQLite(ctx, cfg.Path))
	case DriverRedis:
		return storageOrNil(OpenRedis(ctx, cfg.Redis))
	case DriverS3:
		return storageOrNil(OpenS3(ctx, cfg.S3))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// storageOrNil keeps a failed constructor from returning a non-nil Storage
// wrapping a nil pointer.
func storageOrNil[S Storage](s S, err error) (Storage, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
