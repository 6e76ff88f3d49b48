package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds the stockbatch configuration
type Config struct {
	Database DatabaseConfig
	Keys     KeysConfig
	Batch    BatchConfig
	Cache    CacheConfig
	HTTP     HTTPConfig
}

// DatabaseConfig holds the connection settings of the primary and its replicas
type DatabaseConfig struct {
	Driver        string   // mysql, postgres or sqlite3
	Primary       string   // Primary database DSN
	Replicas      []string // Read replica DSNs
	SequenceQuery string   // Query returning the next key base
}

// KeysConfig selects where primary key ranges come from
type KeysConfig struct {
	Source    string // sql or redis
	Increment int64
	RedisAddr string
	RedisKey  string
}

// BatchConfig holds the write batch settings of an upload
type BatchConfig struct {
	Threshold     int
	AutoTrigger   bool
	CheckFailures bool
}

// CacheConfig holds the lookup cache settings
type CacheConfig struct {
	TotalsTTL time.Duration
}

// HTTPConfig holds the operational endpoint settings
type HTTPConfig struct {
	Listen string
}

// Load reads configuration from an INI file with environment variable overrides
func Load(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return parse(cfg), nil
}

func parse(cfg *ini.File) *Config {
	db := cfg.Section("database")
	keys := cfg.Section("keys")
	batch := cfg.Section("batch")

	config := &Config{
		Database: DatabaseConfig{
			Driver:        db.Key("driver").MustString("sqlite3"),
			Primary:       db.Key("primary").MustString("stockbatch.db"),
			Replicas:      loadReplicas(db),
			SequenceQuery: db.Key("sequence_query").String(),
		},
		Keys: KeysConfig{
			Source:    keys.Key("source").In("sql", []string{"sql", "redis"}),
			Increment: keys.Key("increment").MustInt64(1000),
			RedisAddr: keys.Key("redis_addr").MustString("127.0.0.1:6379"),
			RedisKey:  keys.Key("redis_key").MustString("stockbatch:pkgenerator"),
		},
		Batch: BatchConfig{
			Threshold:     batch.Key("threshold").MustInt(2000),
			AutoTrigger:   batch.Key("auto_trigger").MustBool(true),
			CheckFailures: batch.Key("check_failures").MustBool(true),
		},
		Cache: CacheConfig{
			TotalsTTL: cfg.Section("cache").Key("totals_ttl").MustDuration(5 * time.Minute),
		},
		HTTP: HTTPConfig{
			Listen: cfg.Section("http").Key("listen").MustString(":9090"),
		},
	}

	// Environment variable overrides
	if v := os.Getenv("STOCKBATCH_DATABASE_DRIVER"); v != "" {
		config.Database.Driver = v
	}
	if v := os.Getenv("STOCKBATCH_DATABASE_PRIMARY"); v != "" {
		config.Database.Primary = v
	}
	if v := os.Getenv("STOCKBATCH_KEYS_SOURCE"); v != "" {
		config.Keys.Source = v
	}
	if v := os.Getenv("STOCKBATCH_KEYS_REDIS_ADDR"); v != "" {
		config.Keys.RedisAddr = v
	}
	if v := os.Getenv("STOCKBATCH_BATCH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Batch.Threshold = n
		}
	}
	if v := os.Getenv("STOCKBATCH_HTTP_LISTEN"); v != "" {
		config.HTTP.Listen = v
	}

	return config
}

func loadReplicas(sec *ini.Section) []string {
	// Parse replicas (replica1, replica2, etc.)
	var replicas []string
	for i := 1; i <= 10; i++ { // Support up to 10 replicas
		keyName := "replica" + strconv.Itoa(i)
		replica := sec.Key(keyName).String()
		if replica != "" {
			replicas = append(replicas, replica)
		}
	}
	return replicas
}
