package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix prefixes every environment variable, e.g. FF_VERSION_INDEX_STORE_DIR
const envPrefix = "FF_VERSION_INDEX"

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// StoreConfig holds the on-disk location and pebble tuning of the version store
type StoreConfig struct {
	Dir          string `mapstructure:"dir"`
	CacheSize    int64  `mapstructure:"cache_size"`     // block cache in bytes
	BytesPerSync int    `mapstructure:"bytes_per_sync"` // sstable sync interval in bytes
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// WorkerConfig holds the bridge worker pool configuration
type WorkerConfig struct {
	PoolSize        int           `mapstructure:"pool_size"`
	QueueSize       int           `mapstructure:"queue_size"`
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`
}

// SyncConfig holds the limits of the sync endpoints
type SyncConfig struct {
	// MaxBlockWindow caps to-from of a changes request
	MaxBlockWindow uint64 `mapstructure:"max_block_window"`
	// MaxPageSize caps the number of tokens of a listing
	MaxPageSize int `mapstructure:"max_page_size"`
}

// IndexerConfig holds configuration for version-indexer
type IndexerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Store      StoreConfig  `mapstructure:"store"`
	Server     ServerConfig `mapstructure:"server"`
	Auth       AuthConfig   `mapstructure:"auth"`
	NATS       NATSConfig   `mapstructure:"nats"`
	Worker     WorkerConfig `mapstructure:"worker"`
	Sync       SyncConfig   `mapstructure:"sync"`
}

// RebuildConfig holds configuration for rebuild-index
type RebuildConfig struct {
	BaseConfig `mapstructure:",squash"`
	Store      StoreConfig `mapstructure:"store"`
}

// LoadIndexerConfig loads configuration for version-indexer
func LoadIndexerConfig(configFile string, envPath string) (*IndexerConfig, error) {
	v := configureViper("version-indexer", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	setStoreDefaults(v)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("nats.stream_name", "TOKEN_VERSIONS")
	v.SetDefault("nats.consumer_name", "version-indexer")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connection_name", "version-indexer")
	v.SetDefault("nats.ack_wait", 30*time.Second)
	v.SetDefault("nats.max_deliver", 5)
	v.SetDefault("worker.pool_size", 8)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.retry_max_elapsed", 10*time.Second)
	v.SetDefault("sync.max_block_window", 10000)
	v.SetDefault("sync.max_page_size", 100)

	var config IndexerConfig
	if err := readConfig(v, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadRebuildConfig loads configuration for rebuild-index
func LoadRebuildConfig(configFile string, envPath string) (*RebuildConfig, error) {
	v := configureViper("rebuild-index", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	setStoreDefaults(v)

	var config RebuildConfig
	if err := readConfig(v, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setStoreDefaults(v *viper.Viper) {
	v.SetDefault("store.dir", "data/versions")
	v.SetDefault("store.cache_size", 64<<20) // 64MB
	v.SetDefault("store.bytes_per_sync", 512<<10)
}

// readConfig reads the config file when present and unmarshals into out
func readConfig(v *viper.Viper, out interface{}) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use environment variables
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds every key so that env vars reach the
// config structs even without a config file
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Store
		"store.dir",
		"store.cache_size",
		"store.bytes_per_sync",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Worker
		"worker.pool_size",
		"worker.queue_size",
		"worker.retry_max_elapsed",
		// Sync
		"sync.max_block_window",
		"sync.max_page_size",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads .env, .env.local and .env.<service>.local from envPath,
// later files overriding earlier ones
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		_ = godotenv.Overload(filepath.Join(envPath, envFile))
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}
