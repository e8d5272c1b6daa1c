package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var (
	BackoffMaxElapsedTime time.Duration                = 5 * time.Minute
	Timeout               time.Duration                = 1000 * time.Millisecond
	GlobalConfigCallback  ConfigCallback[GlobalConfig] = ConfigCallback[GlobalConfig]{}
	CfgFlag                                            = flag.String("config", "config.toml", "Configuration file (toml format)")
	EnvFileFlag                                        = flag.String("env", ".env", "Optional dotenv file read before the environment")
)

const (
	QueueBackendRedis = "redis"
	QueueBackendLocal = "local"

	ActivitySourceLogs = "logs"
	ActivitySourceSbch = "sbch"

	// MaxBackfillWindow bounds the blocks scanned by one address crawl.
	MaxBackfillWindow = 250

	defaultBlocksPerTask     = 5
	defaultBackfillWindow    = MaxBackfillWindow
	defaultBackfillPartition = 10
	defaultMaxAttempts       = 3
	defaultRetryDelayMillis  = 3000
)

type GlobalConfig interface {
	LoggerConfig() LoggerConfig
	ChainConfig() ChainConfig
}

type Config struct {
	DB            DBConfig           `toml:"db"`
	Logger        LoggerConfig       `toml:"logger"`
	Chain         ChainConfig        `toml:"chain"`
	Redis         RedisConfig        `toml:"redis"`
	Queue         QueueConfig        `toml:"queue"`
	Indexer       IndexerConfig      `toml:"indexer"`
	Notifications NotificationConfig `toml:"notifications"`
	Server        ServerConfig       `toml:"server"`
}

type LoggerConfig struct {
	Level       string `toml:"level" envconfig:"LOG_LEVEL"` // valid values are: DEBUG, INFO, WARN, ERROR, DPANIC, PANIC, FATAL (zap)
	File        string `toml:"file"`
	MaxFileSize int    `toml:"max_file_size"` // In megabytes
	MaxBackups  int    `toml:"max_backups"`
	MaxAgeDays  int    `toml:"max_age_days"`
	Console     bool   `toml:"console"`
	JSON        bool   `toml:"json"` // file core only
}

type DBConfig struct {
	Host       string `toml:"host" envconfig:"DB_HOST"`
	Port       int    `toml:"port" envconfig:"DB_PORT"`
	Database   string `toml:"database" envconfig:"DB_DATABASE"`
	Username   string `toml:"username" envconfig:"DB_USERNAME"`
	Password   string `toml:"password" envconfig:"DB_PASSWORD"`
	LogQueries bool   `toml:"log_queries"`
}

type ChainConfig struct {
	NodeURL           string  `toml:"node_url" envconfig:"CHAIN_NODE_URL"`
	ChainType         string  `toml:"chain_type"` // "eth" (default) or "avax"
	TimeoutMillis     int     `toml:"timeout_millis"`
	RequestsPerSecond float64 `toml:"requests_per_second"` // 0 disables the limiter
	ActivitySource    string  `toml:"activity_source"`     // "logs" (default) or "sbch"
}

type RedisConfig struct {
	Address         string `toml:"address" envconfig:"REDIS_ADDRESS"`
	Password        string `toml:"password" envconfig:"REDIS_PASSWORD"`
	DB              int    `toml:"db" envconfig:"REDIS_DB"`
	KeyPrefix       string `toml:"key_prefix"`
	ClaimTTLSeconds int    `toml:"claim_ttl_seconds"` // 0 keeps claims until released
}

type QueueConfig struct {
	Backend           string `toml:"backend"` // "redis" or "local"
	Workers           int    `toml:"workers"`
	PollTimeoutMillis int    `toml:"poll_timeout_millis"`
}

type IndexerConfig struct {
	BlocksPerTask       int     `toml:"blocks_per_task"`
	StartBlock          *uint64 `toml:"start_block" envconfig:"START_BLOCK"`
	Confirmations       uint64  `toml:"confirmations"`
	NewBlockCheckMillis int     `toml:"new_block_check_millis"`
	BackfillWindow      uint64  `toml:"backfill_window"`
	BackfillPartition   uint64  `toml:"backfill_partition"`
	RunScheduler        bool    `toml:"run_scheduler"`
}

type NotificationConfig struct {
	MaxAttempts          int    `toml:"max_attempts"`
	RetryDelayMillis     int    `toml:"retry_delay_millis"`
	WebhookTimeoutMillis int    `toml:"webhook_timeout_millis"`
	SignatureHeader      string `toml:"signature_header"`
}

type ServerConfig struct {
	ListenAddress string `toml:"listen_address" envconfig:"SERVER_LISTEN_ADDRESS"` // empty disables the admin server
}

func newConfig() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "INFO", Console: true, MaxFileSize: 10},
		Chain:  ChainConfig{ChainType: "eth", TimeoutMillis: 1000, ActivitySource: ActivitySourceLogs},
		Redis:  RedisConfig{Address: "localhost:6379", KeyPrefix: "smartbch"},
		Queue:  QueueConfig{Backend: QueueBackendRedis, Workers: 4, PollTimeoutMillis: 1000},
		Indexer: IndexerConfig{
			BlocksPerTask:       defaultBlocksPerTask,
			NewBlockCheckMillis: 1000,
			BackfillWindow:      defaultBackfillWindow,
			BackfillPartition:   defaultBackfillPartition,
			RunScheduler:        true,
		},
		Notifications: NotificationConfig{
			MaxAttempts:          defaultMaxAttempts,
			RetryDelayMillis:     defaultRetryDelayMillis,
			WebhookTimeoutMillis: 10000,
			SignatureHeader:      "X-Signature-256",
		},
	}
}

func BuildConfig() (*Config, error) {
	cfgFileName := *CfgFlag

	cfg := newConfig()
	err := ParseConfigFile(cfg, cfgFileName)
	if err != nil {
		return nil, err
	}
	err = LoadEnvFile(*EnvFileFlag)
	if err != nil {
		return nil, err
	}
	err = ReadEnv(cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ParseConfigFile(cfg *Config, fileName string) error {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}

	_, err = toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

// LoadEnvFile loads variables from a dotenv file without overriding the
// ones already present in the environment. A missing file is not an error.
func LoadEnvFile(fileName string) error {
	if fileName == "" {
		return nil
	}
	if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(fileName); err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}
	return nil
}

func ReadEnv(cfg interface{}) error {
	err := envconfig.Process("", cfg)
	if err != nil {
		return fmt.Errorf("error reading env config: %w", err)
	}
	return nil
}

// ApplyDefaults replaces zero values that would make the pipeline stall.
func (c *Config) ApplyDefaults() {
	if c.Indexer.BlocksPerTask <= 0 {
		c.Indexer.BlocksPerTask = defaultBlocksPerTask
	}
	if c.Indexer.BackfillWindow == 0 {
		c.Indexer.BackfillWindow = defaultBackfillWindow
	}
	if c.Indexer.BackfillPartition == 0 {
		c.Indexer.BackfillPartition = defaultBackfillPartition
	}
	if c.Notifications.MaxAttempts <= 0 {
		c.Notifications.MaxAttempts = defaultMaxAttempts
	}
	if c.Notifications.RetryDelayMillis < 0 {
		c.Notifications.RetryDelayMillis = defaultRetryDelayMillis
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 1
	}
	if c.Chain.TimeoutMillis > 0 {
		Timeout = time.Duration(c.Chain.TimeoutMillis) * time.Millisecond
	}
}

func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case QueueBackendRedis, QueueBackendLocal:
	default:
		return errors.Errorf("invalid queue backend %q", c.Queue.Backend)
	}
	switch c.Chain.ActivitySource {
	case ActivitySourceLogs, ActivitySourceSbch:
	default:
		return errors.Errorf("invalid chain activity source %q", c.Chain.ActivitySource)
	}
	if c.Indexer.BackfillWindow > MaxBackfillWindow {
		return errors.Errorf("indexer backfill_window %d exceeds %d", c.Indexer.BackfillWindow, MaxBackfillWindow)
	}
	if c.Chain.NodeURL == "" {
		return errors.New("chain node_url is required")
	}
	return nil
}

func (c Config) LoggerConfig() LoggerConfig {
	return c.Logger
}

func (c Config) ChainConfig() ChainConfig {
	return c.Chain
}

func (c NotificationConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

func (c NotificationConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutMillis) * time.Millisecond
}

func (c RedisConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

func (c QueueConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMillis) * time.Millisecond
}

func (c IndexerConfig) NewBlockCheckInterval() time.Duration {
	return time.Duration(c.NewBlockCheckMillis) * time.Millisecond
}
