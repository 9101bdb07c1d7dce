package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Server      ServerConfig
	Constraints ConstraintsConfig
	Storage     StorageConfig
	AWS         AWSConfig
	Token       TokenConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=1337"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	// AllowIndexing controls the robots.txt response. Off by default:
	// derivative URLs are service plumbing, not content worth crawling.
	AllowIndexing bool `env:"ALLOW_INDEXING, default=false"`
}

// ConstraintsConfig bounds the geometry a client may request. Dimensions
// beyond either bound are clamped per axis and the client is redirected
// to the canonical in-bounds URL.
type ConstraintsConfig struct {
	MaxWidth  int `env:"CONSTRAINTS_MAX_WIDTH, default=2048"`
	MaxHeight int `env:"CONSTRAINTS_MAX_HEIGHT, default=2048"`
}

type StorageConfig struct {
	// DBPath is the SQLite database file holding the cache index and the
	// upload tokens. Created on first start.
	DBPath string `env:"STORAGE_DB_PATH, default=camber.db"`

	// OriginalsDir holds source images, keyed by bare resource id
	// (no extension).
	OriginalsDir string `env:"STORAGE_ORIGINALS_DIR, required"`

	// PoolSize is the SQLite connection pool size.
	PoolSize int `env:"STORAGE_POOL_SIZE, default=4"`
}

// AWSConfig identifies the S3 bucket storing cached derivatives.
// Credentials and region resolve through the SDK default chain.
type AWSConfig struct {
	Bucket string `env:"AWS_BUCKET, required"`

	// BucketURL is the public base URL of the bucket, used to build the
	// served URL recorded in the cache index.
	BucketURL string `env:"AWS_BUCKET_URL, required"`

	Region string `env:"AWS_REGION"`
}

type TokenConfig struct {
	// TTL is the validity window of a single-use upload token.
	TTL time.Duration `env:"TOKEN_TTL, default=15m"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Constraints.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid constraints configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the geometry bounds are usable.
func (c *ConstraintsConfig) Validate() error {
	if c.MaxWidth < 1 {
		return fmt.Errorf("CONSTRAINTS_MAX_WIDTH must be positive, got %d", c.MaxWidth)
	}
	if c.MaxHeight < 1 {
		return fmt.Errorf("CONSTRAINTS_MAX_HEIGHT must be positive, got %d", c.MaxHeight)
	}
	return nil
}
