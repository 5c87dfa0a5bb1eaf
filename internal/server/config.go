package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/openmined/blobvault/internal/blob/filestore"
	"github.com/openmined/blobvault/internal/blob/hashing"
	"github.com/openmined/blobvault/internal/blob/metadata"
	"github.com/openmined/blobvault/internal/utils"
)

const (
	DefaultAddr            = "127.0.0.1:8080"
	DefaultCompactInterval = time.Hour
	DefaultRateLimit       = "100-S"
)

var ErrInvalidConfig = errors.New("invalid server config")

type Config struct {
	HTTP         HTTPConfig `mapstructure:"http" yaml:"http"`
	Blob         BlobConfig `mapstructure:"blob" yaml:"blob"`
	DataDir      string     `mapstructure:"data_dir" yaml:"data_dir"`
	LogDir       string     `mapstructure:"log_dir" yaml:"log_dir"`
	ConfigDBPath string     `mapstructure:"config_db_path" yaml:"config_db_path"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	CertFile  string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile   string `mapstructure:"key_file" yaml:"key_file"`
	RateLimit string `mapstructure:"rate_limit" yaml:"rate_limit"` // ulule/limiter format, e.g. "100-S"
}

type BlobConfig struct {
	BaseDir           string        `mapstructure:"base_dir" yaml:"base_dir"`
	RetentionPeriod   time.Duration `mapstructure:"retention_period" yaml:"retention_period"`
	TempGracePeriod   time.Duration `mapstructure:"temp_grace_period" yaml:"temp_grace_period"`
	CompactInterval   time.Duration `mapstructure:"compact_interval" yaml:"compact_interval"` // 0 disables scheduled compaction
	HashAlgorithms    []string      `mapstructure:"hash_algorithms" yaml:"hash_algorithms"`
	MetadataCacheSize int           `mapstructure:"metadata_cache_size" yaml:"metadata_cache_size"`
}

// TLS reports whether both a certificate and a key are configured
func (c *HTTPConfig) TLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Validate resolves paths and fills in defaults
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}

	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("%w: data_dir: %w", ErrInvalidConfig, err)
	}
	c.DataDir = dataDir

	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
	if c.ConfigDBPath == "" {
		c.ConfigDBPath = filepath.Join(c.DataDir, "blobstores.db")
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		return fmt.Errorf("%w: cert_file and key_file must be set together", ErrInvalidConfig)
	}
	if c.HTTP.RateLimit == "" {
		c.HTTP.RateLimit = DefaultRateLimit
	}

	return c.Blob.validate(c.DataDir)
}

func (c *BlobConfig) validate(dataDir string) error {
	if c.BaseDir == "" {
		c.BaseDir = filepath.Join(dataDir, "blobs")
	}
	baseDir, err := utils.ResolvePath(c.BaseDir)
	if err != nil {
		return fmt.Errorf("%w: blob.base_dir: %w", ErrInvalidConfig, err)
	}
	c.BaseDir = baseDir

	if c.RetentionPeriod == 0 {
		c.RetentionPeriod = filestore.DefaultRetentionPeriod
	}
	if c.TempGracePeriod == 0 {
		c.TempGracePeriod = filestore.DefaultTempGracePeriod
	}
	if c.RetentionPeriod < 0 || c.TempGracePeriod < 0 || c.CompactInterval < 0 {
		return fmt.Errorf("%w: blob durations must not be negative", ErrInvalidConfig)
	}

	if len(c.HashAlgorithms) == 0 {
		c.HashAlgorithms = slices.Clone(hashing.DefaultAlgorithms)
	}
	for _, alg := range c.HashAlgorithms {
		if !hashing.Supported(alg) {
			return fmt.Errorf("%w: unsupported hash algorithm %q", ErrInvalidConfig, alg)
		}
	}

	if c.MetadataCacheSize == 0 {
		c.MetadataCacheSize = metadata.DefaultCacheSize
	}
	return nil
}

// StoreOptions translates the blob settings into file store options
func (c *BlobConfig) StoreOptions() []filestore.Option {
	return []filestore.Option{
		filestore.WithRetentionPeriod(c.RetentionPeriod),
		filestore.WithTempGracePeriod(c.TempGracePeriod),
		filestore.WithHashAlgorithms(c.HashAlgorithms...),
		filestore.WithMetadataCacheSize(c.MetadataCacheSize),
	}
}
