package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rohankatakam/dashi/internal/logging"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/spf13/viper"
)

// Failure policies for a run
const (
	PolicyFail     = "fail"
	PolicyContinue = "continue"
)

// Config holds all configuration settings
type Config struct {
	// Directory holding local repositories that set no explicit path
	RepositoryRoot string `mapstructure:"repository_root" yaml:"repository_root"`

	// Gather range, "2006-01-02" or RFC 3339. Empty Until means now.
	Since string `mapstructure:"since" yaml:"since"`
	Until string `mapstructure:"until" yaml:"until"`

	// What a failed fetch does to the run: "fail" or "continue"
	Policy string `mapstructure:"policy" yaml:"policy"`

	// Maximum sources fetched at once (0 = one goroutine per source)
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive" yaml:"archive"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Bitbucket BitbucketConfig `mapstructure:"bitbucket" yaml:"bitbucket"`
	GitHub    GitHubConfig    `mapstructure:"github" yaml:"github"`
	Jira      JiraConfig      `mapstructure:"jira" yaml:"jira"`
	Jenkins   JenkinsConfig   `mapstructure:"jenkins" yaml:"jenkins"`
	Sentry    SentryConfig    `mapstructure:"sentry" yaml:"sentry"`

	Repositories []models.Repository `mapstructure:"repositories" yaml:"repositories"`
	Users        []models.User       `mapstructure:"users" yaml:"users"`

	Log logging.Config `mapstructure:"log" yaml:"log"`
}

type StorageConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Type        string `mapstructure:"type" yaml:"type"` // "sqlite", "postgres"
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	LocalPath   string `mapstructure:"local_path" yaml:"local_path"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type RemoteConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	Multiplier     float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst          int           `mapstructure:"burst" yaml:"burst"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type BitbucketConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type GitHubConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"` // empty = api.github.com
	Token     string `mapstructure:"token" yaml:"token"`
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
}

type JiraConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// Extra JQL appended to the per-project resolved-issue query
	JQL string `mapstructure:"jql" yaml:"jql"`
}

type JenkinsConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type SentryConfig struct {
	BaseURL      string `mapstructure:"base_url" yaml:"base_url"`
	Organization string `mapstructure:"organization" yaml:"organization"`
	Token        string `mapstructure:"token" yaml:"token"` // auth token with project:read
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		RepositoryRoot: ".",
		Since:          "2015-01-01",
		Policy:         PolicyFail,
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".dashi", "dashi.db"),
		},
		Archive: ArchiveConfig{
			Path: filepath.Join(homeDir, ".dashi", "pages.db"),
		},
		Remote: RemoteConfig{
			InitialBackoff: time.Second,
			Multiplier:     1.5,
			MaxBackoff:     30 * time.Second,
			Burst:          1,
			Timeout:        30 * time.Second,
		},
		Bitbucket: BitbucketConfig{
			BaseURL: "https://api.bitbucket.org/2.0",
		},
		GitHub: GitHubConfig{
			RateLimit: 10,
		},
		Sentry: SentryConfig{
			BaseURL: "https://sentry.io",
		},
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaults registers every leaf key so that AutomaticEnv can override it
func defaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("repository_root", cfg.RepositoryRoot)
	v.SetDefault("since", cfg.Since)
	v.SetDefault("until", cfg.Until)
	v.SetDefault("policy", cfg.Policy)
	v.SetDefault("concurrency", cfg.Concurrency)

	v.SetDefault("storage.enabled", cfg.Storage.Enabled)
	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.postgres_dsn", cfg.Storage.PostgresDSN)
	v.SetDefault("storage.local_path", cfg.Storage.LocalPath)

	v.SetDefault("archive.enabled", cfg.Archive.Enabled)
	v.SetDefault("archive.path", cfg.Archive.Path)

	v.SetDefault("remote.initial_backoff", cfg.Remote.InitialBackoff)
	v.SetDefault("remote.multiplier", cfg.Remote.Multiplier)
	v.SetDefault("remote.max_backoff", cfg.Remote.MaxBackoff)
	v.SetDefault("remote.rate_limit", cfg.Remote.RateLimit)
	v.SetDefault("remote.burst", cfg.Remote.Burst)
	v.SetDefault("remote.timeout", cfg.Remote.Timeout)

	v.SetDefault("bitbucket.base_url", cfg.Bitbucket.BaseURL)
	v.SetDefault("bitbucket.username", cfg.Bitbucket.Username)
	v.SetDefault("bitbucket.password", cfg.Bitbucket.Password)

	v.SetDefault("github.base_url", cfg.GitHub.BaseURL)
	v.SetDefault("github.token", cfg.GitHub.Token)
	v.SetDefault("github.rate_limit", cfg.GitHub.RateLimit)

	v.SetDefault("jira.base_url", cfg.Jira.BaseURL)
	v.SetDefault("jira.username", cfg.Jira.Username)
	v.SetDefault("jira.password", cfg.Jira.Password)
	v.SetDefault("jira.jql", cfg.Jira.JQL)

	v.SetDefault("jenkins.base_url", cfg.Jenkins.BaseURL)
	v.SetDefault("jenkins.username", cfg.Jenkins.Username)
	v.SetDefault("jenkins.password", cfg.Jenkins.Password)

	v.SetDefault("sentry.base_url", cfg.Sentry.BaseURL)
	v.SetDefault("sentry.organization", cfg.Sentry.Organization)
	v.SetDefault("sentry.token", cfg.Sentry.Token)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output_file", cfg.Log.OutputFile)
	v.SetDefault("log.max_size", cfg.Log.MaxSize)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
}

// Load loads configuration from file, .env files and DASHI_* variables.
// An empty path searches .dashi/, the working directory and ~/.dashi for
// config.yaml; no file at all is fine.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	defaults(v, cfg)

	// DASHI_STORAGE_TYPE overrides storage.type
	v.SetEnvPrefix("DASHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".dashi")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".dashi"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.RepositoryRoot = expandPath(cfg.RepositoryRoot)
	cfg.Storage.LocalPath = expandPath(cfg.Storage.LocalPath)
	cfg.Archive.Path = expandPath(cfg.Archive.Path)
	for i := range cfg.Repositories {
		cfg.Repositories[i].Path = expandPath(cfg.Repositories[i].Path)
	}

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".dashi", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// SinceTime parses Since
func (c *Config) SinceTime() (time.Time, error) {
	return ParseDate(c.Since)
}

// UntilTime parses Until; the zero time means open-ended
func (c *Config) UntilTime() (time.Time, error) {
	if c.Until == "" {
		return time.Time{}, nil
	}
	return ParseDate(c.Until)
}

// ParseDate accepts a calendar date (midnight UTC) or an RFC 3339 instant
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

// User returns the configured user called name
func (c *Config) User(name string) (models.User, bool) {
	for _, u := range c.Users {
		if strings.EqualFold(u.Name, name) {
			return u, true
		}
	}
	return models.User{}, false
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("repository_root", c.RepositoryRoot)
	v.Set("since", c.Since)
	v.Set("until", c.Until)
	v.Set("policy", c.Policy)
	v.Set("concurrency", c.Concurrency)
	v.Set("storage", c.Storage)
	v.Set("archive", c.Archive)
	v.Set("remote", c.Remote)
	v.Set("repositories", c.Repositories)
	v.Set("users", c.Users)
	v.Set("log", c.Log)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
