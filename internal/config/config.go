package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	S3       S3Config       `mapstructure:"s3" yaml:"s3"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Admin    AdminConfig    `mapstructure:"admin" yaml:"admin"`
	Speech   SpeechConfig   `mapstructure:"speech" yaml:"speech"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port" yaml:"port"`
	Mode           string   `mapstructure:"mode" yaml:"mode"` // debug, release, test
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Type        string `mapstructure:"type" yaml:"type"` // sqlite, postgres, mysql
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"` // local, s3
	PublicRoot  string `mapstructure:"public_root" yaml:"public_root"`
	ImagePrefix string `mapstructure:"image_prefix" yaml:"image_prefix"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	MaxImageMP  int    `mapstructure:"max_image_megapixels" yaml:"max_image_megapixels"`
	Watch       bool   `mapstructure:"watch" yaml:"watch"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret" yaml:"access_key_secret"`
	PublicURL       string `mapstructure:"public_url" yaml:"public_url"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	SessionSecret  string        `mapstructure:"session_secret" yaml:"session_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	SessionMaxAge  int           `mapstructure:"session_max_age" yaml:"session_max_age"` // seconds
	SecureCookies  bool          `mapstructure:"secure_cookies" yaml:"secure_cookies"`
	LoginRateLimit int           `mapstructure:"login_rate_limit" yaml:"login_rate_limit"` // attempts per minute per IP
}

// AdminConfig is the account seeded on migrate. An empty password disables seeding.
type AdminConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type SpeechConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Command string `mapstructure:"command" yaml:"command"`
	Voice   string `mapstructure:"voice" yaml:"voice"` // Male, Female
	Rate    int    `mapstructure:"rate" yaml:"rate"`
	Volume  int    `mapstructure:"volume" yaml:"volume"` // 0-200, espeak amplitude
}

const devSecret = "dev-insecure-secret-change"

// Default returns the configuration used when no file or environment overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Mode:           "debug",
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Type:        "sqlite",
			DSN:         "./data/flowerpod.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
			AutoMigrate: true,
		},
		Storage: StorageConfig{
			Backend:     "local",
			PublicRoot:  "./static",
			ImagePrefix: "guides/images",
			MaxUploadMB: 5,
			MaxImageMP:  40,
		},
		S3: S3Config{
			Region: "auto",
		},
		Auth: AuthConfig{
			JWTSecret:      devSecret,
			SessionSecret:  devSecret,
			TokenTTL:       24 * time.Hour,
			SessionMaxAge:  86400 * 30,
			LoginRateLimit: 20,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
		Speech: SpeechConfig{
			Command: "espeak",
			Voice:   "Male",
			Rate:    100,
			Volume:  80,
		},
	}
}

// legacyEnv keeps the environment names older deployments already export.
var legacyEnv = map[string]string{
	"database.dsn":          "DB_DSN",
	"database.auto_migrate": "DB_AUTO_MIGRATE",
	"auth.jwt_secret":       "JWT_SECRET",
	"storage.public_root":   "UPLOAD_BASE",
	"s3.bucket":             "BUCKET_NAME",
	"s3.access_key_id":      "ACCESS_KEY_ID",
	"s3.access_key_secret":  "ACCESS_KEY_SECRET",
	"s3.public_url":         "PUBLIC_URL",
}

// Load reads .env, then the config file at path (config.yaml in the working
// directory when empty), then FLOWERPOD_* environment variables.
// A missing .env or config file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("FLOWERPOD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "FLOWERPOD_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.auto_migrate", d.Database.AutoMigrate)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.public_root", d.Storage.PublicRoot)
	v.SetDefault("storage.image_prefix", d.Storage.ImagePrefix)
	v.SetDefault("storage.max_upload_mb", d.Storage.MaxUploadMB)
	v.SetDefault("storage.max_image_megapixels", d.Storage.MaxImageMP)
	v.SetDefault("storage.watch", d.Storage.Watch)
	v.SetDefault("s3.bucket", d.S3.Bucket)
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.access_key_id", d.S3.AccessKeyID)
	v.SetDefault("s3.access_key_secret", d.S3.AccessKeySecret)
	v.SetDefault("s3.public_url", d.S3.PublicURL)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.session_secret", d.Auth.SessionSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.session_max_age", d.Auth.SessionMaxAge)
	v.SetDefault("auth.secure_cookies", d.Auth.SecureCookies)
	v.SetDefault("auth.login_rate_limit", d.Auth.LoginRateLimit)
	v.SetDefault("admin.username", d.Admin.Username)
	v.SetDefault("admin.password", d.Admin.Password)
	v.SetDefault("speech.enabled", d.Speech.Enabled)
	v.SetDefault("speech.command", d.Speech.Command)
	v.SetDefault("speech.voice", d.Speech.Voice)
	v.SetDefault("speech.rate", d.Speech.Rate)
	v.SetDefault("speech.volume", d.Speech.Volume)
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database dsn is empty")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.PublicRoot == "" {
			return errors.New("storage public_root is empty")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3 bucket is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Storage.ImagePrefix == "" || strings.HasPrefix(c.Storage.ImagePrefix, "/") {
		return fmt.Errorf("storage image_prefix must be a relative path, got %q", c.Storage.ImagePrefix)
	}
	if c.Storage.MaxUploadMB <= 0 {
		return errors.New("storage max_upload_mb must be positive")
	}
	if c.Storage.MaxImageMP <= 0 {
		return errors.New("storage max_image_megapixels must be positive")
	}
	if c.Auth.JWTSecret == "" || c.Auth.SessionSecret == "" {
		return errors.New("auth secrets must not be empty")
	}
	return nil
}

// MaxUploadBytes is the per-image payload limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Storage.MaxUploadMB) << 20
}

// MaxImagePixels is the per-image width*height limit.
func (c *Config) MaxImagePixels() int64 {
	return int64(c.Storage.MaxImageMP) * 1_000_000
}

// InsecureSecrets reports whether the development fallback secrets are in use.
func (c *Config) InsecureSecrets() bool {
	return c.Auth.JWTSecret == devSecret || c.Auth.SessionSecret == devSecret
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
