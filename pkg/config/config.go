package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	SSLMode            string        `yaml:"sslmode"`
	MaxConns           int32         `yaml:"max_conns"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL       string `yaml:"url"`
	SyncQueue string `yaml:"sync_queue"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Development    bool          `yaml:"development"`
}

// GmailConfig covers the OAuth client and the shared mailbox.
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	APIBase      string `yaml:"api_base"`
	ConnectionID string `yaml:"connection_id"`
	Label        string `yaml:"label"`
	PageSize     int    `yaml:"page_size"`
	MaxTotal     int    `yaml:"max_total"`
}

// PipelineConfig tunes reconciliation, token refresh and sync.
type PipelineConfig struct {
	RefreshSkew      time.Duration `yaml:"refresh_skew"`
	PromotionTimeout time.Duration `yaml:"promotion_timeout"`
	DedupTTL         time.Duration `yaml:"dedup_ttl"`
	Location         string        `yaml:"location"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	SyncMaxAttempts  int           `yaml:"sync_max_attempts"`
	SyncBaseDelay    time.Duration `yaml:"sync_base_delay"`
	FullSyncAfter    time.Duration `yaml:"full_sync_after"`
}

// LoadLocation resolves Location, falling back to UTC.
func (p PipelineConfig) LoadLocation() *time.Location {
	if p.Location == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideGmailFromEnv 从环境变量覆盖 OAuth 客户端配置
func OverrideGmailFromEnv(cfg *GmailConfig) {
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.ClientID = id
	}
	if secret := os.Getenv("GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.ClientSecret = secret
	}
}
