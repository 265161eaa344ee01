package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration, loaded from a per-environment
// YAML file with environment variable overrides on top.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	CORS      CORSConfig      `yaml:"cors"`
	Migration MigrationConfig `yaml:"migration"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

type CORSConfig struct {
	AllowOrigins string `yaml:"allow_origins"`
}

// MigrationConfig tunes the table migration engine.
type MigrationConfig struct {
	// PostTypes is the registered set of custom post types this install
	// knows about. Toggle requests for anything else are rejected before
	// any I/O.
	PostTypes []string `yaml:"post_types"`
	// BatchSize is the number of rows read and upserted per batch.
	BatchSize int `yaml:"batch_size"`
	// TableHandling governs how pre-existing custom tables are treated at
	// activation: auto | backup | validate | skip.
	TableHandling string `yaml:"table_handling"`
	// StatusTTL is how long a terminal status record stays readable.
	StatusTTL time.Duration `yaml:"status_ttl"`
	// LockTTL bounds the per-type migration lease.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// LoadDotEnv loads .env files with priority: .env.local > .env
// godotenv.Load does NOT overwrite already-set env vars,
// so OS env vars always win, .env.local wins over .env.
// Returns list of files actually loaded.
func LoadDotEnv() []string {
	candidates := []string{".env.local", ".env"}
	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}

// Load reads the YAML config at path and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: 8082, Env: "local"},
		Database: DatabaseConfig{
			Host: "127.0.0.1", Port: 3306, User: "root", Name: "wordpress",
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379, PoolSize: 10},
		JWT:   JWTConfig{ExpiresIn: 24 * time.Hour},
		Migration: MigrationConfig{
			BatchSize:     100,
			TableHandling: "auto",
			StatusTTL:     time.Hour,
			LockTTL:       15 * time.Minute,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("CPT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Migration.BatchSize = n
		}
	}
}

func normalize(cfg *Config) {
	if cfg.Migration.BatchSize <= 0 {
		cfg.Migration.BatchSize = 100
	}
	switch cfg.Migration.TableHandling {
	case "auto", "backup", "validate", "skip":
	default:
		cfg.Migration.TableHandling = "auto"
	}
	if cfg.Migration.StatusTTL <= 0 {
		cfg.Migration.StatusTTL = time.Hour
	}
	if cfg.Migration.LockTTL <= 0 {
		cfg.Migration.LockTTL = 15 * time.Minute
	}
}

// GetDSN builds the MySQL DSN with the driver's own config type so escaping
// and parameter formatting stay correct.
func (d DatabaseConfig) GetDSN() string {
	mc := mysqldriver.NewConfig()
	mc.User = d.User
	mc.Passwd = d.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
	mc.DBName = d.Name
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// IsDevelopment reports whether the server runs in a dev-like environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "local" || c.Server.Env == "development" || c.Server.Env == "dev"
}
