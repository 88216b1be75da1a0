package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mailfolders/internal/folder"
)

type Config struct {
	IMAP  IMAPConfig  `mapstructure:"imap" yaml:"imap"`
	Auth  AuthConfig  `mapstructure:"auth" yaml:"auth"`
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
}

type IMAPConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	TLS                bool   `mapstructure:"tls" yaml:"tls"`
	StartTLS           bool   `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// KeyringBackend is auto, keychain or file.
	KeyringBackend string `mapstructure:"keyring_backend" yaml:"keyring_backend,omitempty"`

	// PasswordSource records where the password came from: env, config or keyring.
	PasswordSource string `mapstructure:"-" yaml:"-"`
}

// CacheConfig tunes the folder cache.
type CacheConfig struct {
	FolderCaching       bool          `mapstructure:"folder_caching" yaml:"folder_caching"`
	TTL                 time.Duration `mapstructure:"ttl" yaml:"ttl"`
	ShortTTL            time.Duration `mapstructure:"short_ttl" yaml:"short_ttl"`
	IgnoreSubscriptions bool          `mapstructure:"ignore_subscriptions" yaml:"ignore_subscriptions"`
}

func DefaultConfig() Config {
	opts := folder.DefaultOptions()

	return Config{
		IMAP: IMAPConfig{
			Port:     993,
			TLS:      true,
			StartTLS: false,
		},
		Auth: AuthConfig{
			KeyringBackend: "auto",
		},
		Cache: CacheConfig{
			FolderCaching:       opts.FolderCaching,
			TTL:                 opts.TTL,
			ShortTTL:            opts.ShortTTL,
			IgnoreSubscriptions: opts.IgnoreSubscriptions,
		},
	}
}

// FolderOptions returns the folder cache tuning.
func (c Config) FolderOptions() folder.Options {
	return folder.Options{
		FolderCaching:       c.Cache.FolderCaching,
		TTL:                 c.Cache.TTL,
		ShortTTL:            c.Cache.ShortTTL,
		IgnoreSubscriptions: c.Cache.IgnoreSubscriptions,
	}
}

// Principal identifies the login across servers: "user@host", lower-cased. It keys both the
// stored password and the folder cache.
func (c Config) Principal() string {
	return strings.ToLower(strings.TrimSpace(c.Auth.Username) + "@" + strings.TrimSpace(c.IMAP.Host))
}

func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func Load() (Config, error) {
	_, cfg, err := load()
	return cfg, err
}

func load() (*viper.Viper, Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, cfg, err
	}

	return v, cfg, nil
}

// Watch loads the config and calls fn with the reloaded config each time the file changes.
// The config file must exist.
func Watch(fn func(Config, error)) (Config, error) {
	v, cfg, err := load()
	if err != nil {
		return cfg, err
	}

	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return cfg, fmt.Errorf("watch config: %w", err)
	}

	v.OnConfigChange(func(fsnotify.Event) {
		reloaded := DefaultConfig()
		err := v.Unmarshal(&reloaded)
		fn(reloaded, err)
	})
	v.WatchConfig()

	return cfg, nil
}

func Save(cfg Config) (string, error) {
	dir, err := EnsureDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "config.yaml")

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = "****"
	}
	return masked
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.starttls", cfg.IMAP.StartTLS)
	v.SetDefault("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)

	v.SetDefault("auth.keyring_backend", cfg.Auth.KeyringBackend)

	v.SetDefault("cache.folder_caching", cfg.Cache.FolderCaching)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.short_ttl", cfg.Cache.ShortTTL)
	v.SetDefault("cache.ignore_subscriptions", cfg.Cache.IgnoreSubscriptions)
}

func Validate(cfg Config) error {
	if err := ValidateIMAP(cfg); err != nil {
		return err
	}
	return ValidateCache(cfg)
}

func ValidateIMAP(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if cfg.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	if cfg.Auth.Password == "" {
		return fmt.Errorf("auth.password is required")
	}
	return nil
}

func ValidateCache(cfg Config) error {
	if cfg.Cache.TTL < 0 || cfg.Cache.ShortTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	return nil
}
