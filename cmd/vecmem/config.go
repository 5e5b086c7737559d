package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecmem"
	"github.com/hupe1980/vecmem/blobstore"
	miniostore "github.com/hupe1980/vecmem/blobstore/minio"
	s3store "github.com/hupe1980/vecmem/blobstore/s3"
	"github.com/hupe1980/vecmem/tier/cold"
)

// Config is the YAML configuration of the CLI.
type Config struct {
	Dir          string        `yaml:"dir"`
	Dimension    int           `yaml:"dimension"`
	HotCapacity  int           `yaml:"hot_capacity"`
	WarmCapacity int           `yaml:"warm_capacity"`
	Durability   string        `yaml:"durability"`
	QuantizedWAL bool          `yaml:"quantized_wal"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	RunInterval  time.Duration `yaml:"run_interval"`
	Log          LogConfig     `yaml:"log"`
	Tiers        TierConfig    `yaml:"tiers"`
	Cold         ColdConfig    `yaml:"cold"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TierConfig struct {
	DemoteValue    float64       `yaml:"demote_value"`
	WarmAfter      time.Duration `yaml:"warm_after"`
	ColdConfidence float32       `yaml:"cold_confidence"`
	ColdAfter      time.Duration `yaml:"cold_after"`
	ColdForceAfter time.Duration `yaml:"cold_force_after"`
}

// ColdConfig selects where the cold blob lives. Backend is "local", "s3" or
// "minio".
type ColdConfig struct {
	Backend     string `yaml:"backend"`
	Compression string `yaml:"compression"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Secure      bool   `yaml:"secure"`
}

// DefaultConfig mirrors the store defaults.
func DefaultConfig() Config {
	p := vecmem.DefaultTierPolicy
	return Config{
		Dir:          "./data",
		HotCapacity:  p.HotCapacity,
		WarmCapacity: 100_000,
		Durability:   "best_effort",
		SyncInterval: time.Second,
		RunInterval:  30 * time.Second,
		Log:          LogConfig{Level: "info", Format: "text"},
		Tiers: TierConfig{
			DemoteValue:    p.DemoteValue,
			WarmAfter:      p.WarmAfter,
			ColdConfidence: p.ColdConfidence,
			ColdAfter:      p.ColdAfter,
			ColdForceAfter: p.ColdForceAfter,
		},
		Cold: ColdConfig{Backend: "local", Compression: "zstd"},
	}
}

// LoadConfig reads path over the defaults. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("dir must not be empty"))
	}
	if c.Dimension < 0 {
		errs = append(errs, fmt.Errorf("dimension %d must not be negative", c.Dimension))
	}
	if _, err := c.durability(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.logLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cold.ParseCompression(c.Cold.Compression); err != nil {
		errs = append(errs, err)
	}
	switch c.Cold.Backend {
	case "", "local":
	case "s3", "minio":
		if c.Cold.Bucket == "" {
			errs = append(errs, fmt.Errorf("cold backend %s needs a bucket", c.Cold.Backend))
		}
		if c.Cold.Backend == "minio" && c.Cold.Endpoint == "" {
			errs = append(errs, errors.New("cold backend minio needs an endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cold backend %q", c.Cold.Backend))
	}
	return errors.Join(errs...)
}

func (c Config) durability() (vecmem.DurabilityPolicy, error) {
	switch strings.ToLower(c.Durability) {
	case "", "best_effort", "besteffort":
		return vecmem.BestEffort, nil
	case "strict":
		return vecmem.Strict, nil
	default:
		return 0, fmt.Errorf("unknown durability policy %q", c.Durability)
	}
}

func (c Config) logLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return l, nil
}

// Logger builds the store logger from the log section.
func (c Config) Logger() *vecmem.Logger {
	level, _ := c.logLevel()
	if strings.EqualFold(c.Log.Format, "json") {
		return vecmem.NewJSONLogger(level)
	}
	return vecmem.NewTextLogger(level)
}

// TierPolicy returns the configured thresholds.
func (c Config) TierPolicy() vecmem.TierPolicy {
	return vecmem.TierPolicy{
		HotCapacity:    c.HotCapacity,
		DemoteValue:    c.Tiers.DemoteValue,
		WarmAfter:      c.Tiers.WarmAfter,
		ColdConfidence: c.Tiers.ColdConfidence,
		ColdAfter:      c.Tiers.ColdAfter,
		ColdForceAfter: c.Tiers.ColdForceAfter,
	}
}

// ColdStore returns the configured blob store, or nil for the default local
// store inside Dir.
func (c Config) ColdStore(ctx context.Context) (blobstore.Store, error) {
	cc := c.Cold
	switch cc.Backend {
	case "s3":
		var optFns []func(*s3store.Options)
		if cc.Prefix != "" {
			optFns = append(optFns, s3store.WithPrefix(cc.Prefix))
		}
		if cc.Region != "" {
			optFns = append(optFns, s3store.WithRegion(cc.Region))
		}
		if cc.Endpoint != "" {
			optFns = append(optFns, s3store.WithEndpoint(cc.Endpoint))
		}
		return s3store.New(ctx, cc.Bucket, optFns...)
	case "minio":
		store, err := miniostore.New(cc.Endpoint, cc.Bucket, func(o *miniostore.Options) {
			o.AccessKey = cc.AccessKey
			o.SecretKey = cc.SecretKey
			o.Secure = cc.Secure
			o.Region = cc.Region
			o.Prefix = cc.Prefix
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx, cc.Region); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

// Options maps the configuration onto store options.
func (c Config) Options(ctx context.Context) ([]vecmem.Option, error) {
	durability, err := c.durability()
	if err != nil {
		return nil, err
	}
	compression, err := cold.ParseCompression(c.Cold.Compression)
	if err != nil {
		return nil, err
	}

	opts := []vecmem.Option{
		vecmem.WithLogger(c.Logger()),
		vecmem.WithTierPolicy(c.TierPolicy()),
		vecmem.WithWarmCapacity(c.WarmCapacity),
		vecmem.WithDurabilityPolicy(durability),
		vecmem.WithColdCompression(compression),
		vecmem.WithSyncInterval(c.SyncInterval),
		vecmem.WithRunInterval(c.RunInterval),
	}
	if c.QuantizedWAL {
		opts = append(opts, vecmem.WithQuantizedWAL())
	}

	store, err := c.ColdStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, vecmem.WithColdStore(store))
	}
	return opts, nil
}
