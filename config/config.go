package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// ProviderConfig 邮箱网关服务配置
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ClassifierConfig AI 分类服务配置
type ClassifierConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyChars int           `yaml:"max_body_chars"`
}

// EngineConfig 规则引擎配置
type EngineConfig struct {
	MessageLockTTL  time.Duration `yaml:"message_lock_ttl"`
	ActionLockTTL   time.Duration `yaml:"action_lock_ttl"`
	ProviderRetries int           `yaml:"provider_retries"`
	DigestWindow    time.Duration `yaml:"digest_window"`
}

type Config struct {
	DB         DBConfig         `yaml:"db"`
	MQ         MQConfig         `yaml:"mq"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderConfig   `yaml:"provider"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Engine     EngineConfig     `yaml:"engine"`
}

func Load() *Config {
	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	OverrideDBFromEnv(&cfg.DB)
	OverrideMQFromEnv(&cfg.MQ)
	OverrideRedisFromEnv(&cfg.Redis)
	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 15 * time.Second
	}
	if cfg.Classifier.MaxBodyChars == 0 {
		cfg.Classifier.MaxBodyChars = 2000
	}
	if cfg.Engine.MessageLockTTL == 0 {
		cfg.Engine.MessageLockTTL = 5 * time.Minute
	}
	if cfg.Engine.ActionLockTTL == 0 {
		cfg.Engine.ActionLockTTL = 2 * time.Minute
	}
	if cfg.Engine.ProviderRetries == 0 {
		cfg.Engine.ProviderRetries = 3
	}
	if cfg.Engine.DigestWindow == 0 {
		cfg.Engine.DigestWindow = time.Hour
	}
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

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}
