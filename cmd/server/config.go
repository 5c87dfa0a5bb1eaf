package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/openmined/blobvault/internal/blob/filestore"
	"github.com/openmined/blobvault/internal/blob/hashing"
	"github.com/openmined/blobvault/internal/blob/metadata"
	"github.com/openmined/blobvault/internal/server"
	"github.com/openmined/blobvault/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "BLOBVAULT"
	configFileName = "config"
)

var (
	home, _        = os.UserHomeDir()
	defaultDataDir = filepath.Join(home, ".blobvault")
)

// flag name -> config key
var flagKeys = map[string]string{
	"datadir":          "data_dir",
	"basedir":          "blob.base_dir",
	"bind":             "http.addr",
	"cert":             "http.cert_file",
	"key":              "http.key_file",
	"compact-interval": "blob.compact_interval",
}

// loadConfig builds the server config from, in increasing priority, the
// defaults, the config file, BLOBVAULT_* environment variables and flags
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	// config path
	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
	} else {
		for _, dir := range []string{".", defaultDataDir, filepath.Join(home, ".config", "blobvault")} {
			if utils.DirExists(dir) {
				v.AddConfigPath(dir)
			}
		}
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := cmd.Flag(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	var cfg server.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// every key needs a default so AutomaticEnv can see it during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("log_dir", "")
	v.SetDefault("config_db_path", "")

	v.SetDefault("http.addr", server.DefaultAddr)
	v.SetDefault("http.cert_file", "")
	v.SetDefault("http.key_file", "")
	v.SetDefault("http.rate_limit", server.DefaultRateLimit)

	v.SetDefault("blob.base_dir", "")
	v.SetDefault("blob.retention_period", filestore.DefaultRetentionPeriod)
	v.SetDefault("blob.temp_grace_period", filestore.DefaultTempGracePeriod)
	v.SetDefault("blob.compact_interval", server.DefaultCompactInterval)
	v.SetDefault("blob.hash_algorithms", slices.Clone(hashing.DefaultAlgorithms))
	v.SetDefault("blob.metadata_cache_size", metadata.DefaultCacheSize)
}

// loadEnvFile reads --env-file, or ./.env when present. Variables already
// set in the environment win.
func loadEnvFile(cmd *cobra.Command) error {
	var path string
	if f := cmd.Flag("env-file"); f != nil {
		path = f.Value.String()
	}
	if path == "" {
		if !utils.FileExists(".env") {
			return nil
		}
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
