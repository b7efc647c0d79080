package config

import (
	"log"
	"os"
	"strconv"
	"time"

	pkgconfig "atsinbox/pkg/config"
)

type Config struct {
	DB       pkgconfig.DBConfig       `yaml:"db"`
	MQ       pkgconfig.MQConfig       `yaml:"mq"`
	Redis    pkgconfig.RedisConfig    `yaml:"redis"`
	JWT      pkgconfig.JWTConfig      `yaml:"jwt"`
	Server   pkgconfig.ServerConfig   `yaml:"server"`
	Gmail    pkgconfig.GmailConfig    `yaml:"gmail"`
	Pipeline pkgconfig.PipelineConfig `yaml:"pipeline"`
}

// Load reads config/base.yaml, the CONFIG_ENV overlay and secrets, then
// applies env overrides. It exits the process on failure.
func Load() *Config {
	cfg, err := LoadFrom(pkgconfig.GetConfigEnv(), pkgconfig.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func LoadFrom(env, dir string) (*Config, error) {
	var cfg Config
	if err := pkgconfig.Decode(env, dir, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideGmailFromEnv(&cfg.Gmail)
	overridePipelineFromEnv(&cfg.Pipeline)

	applyDefaults(&cfg)
	return &cfg, nil
}

func overridePipelineFromEnv(p *pkgconfig.PipelineConfig) {
	if loc := os.Getenv("INBOX_TIMEZONE"); loc != "" {
		p.Location = loc
	}
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			p.SyncInterval = d
		}
	}
	if v := os.Getenv("SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.SyncMaxAttempts = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.MQ.SyncQueue == "" {
		cfg.MQ.SyncQueue = "atsinbox.sync"
	}
	if cfg.Gmail.ConnectionID == "" {
		cfg.Gmail.ConnectionID = "central"
	}
	if cfg.Pipeline.RefreshSkew <= 0 {
		cfg.Pipeline.RefreshSkew = 60 * time.Second
	}
	if cfg.Pipeline.PromotionTimeout <= 0 {
		cfg.Pipeline.PromotionTimeout = 5 * time.Second
	}
	if cfg.Pipeline.DedupTTL <= 0 {
		cfg.Pipeline.DedupTTL = 10 * time.Minute
	}
	if cfg.Pipeline.SyncInterval <= 0 {
		cfg.Pipeline.SyncInterval = 15 * time.Minute
	}
}
