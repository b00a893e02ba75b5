package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/models"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	return sb.String()
}

// Err returns the result as a critical config error, or nil when valid
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigError(strings.TrimRight(vr.Error(), "\n"))
}

// Validate checks the whole configuration. Every defect is collected
// rather than stopping at the first.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateRun(result)
	c.validateUsers(result)
	c.validateRepositories(result)
	c.validateStorage(result)
	c.validateRemote(result)

	return result
}

func (c *Config) validateRun(result *ValidationResult) {
	switch c.Policy {
	case PolicyFail, PolicyContinue:
	default:
		result.AddError("policy must be %q or %q, got %q", PolicyFail, PolicyContinue, c.Policy)
	}

	since, err := c.SinceTime()
	if err != nil {
		result.AddError("since: %v", err)
	}
	until, err := c.UntilTime()
	if err != nil {
		result.AddError("until: %v", err)
	} else if !until.IsZero() && !since.IsZero() && !until.After(since) {
		result.AddError("until (%s) must be after since (%s)", c.Until, c.Since)
	}

	if c.Concurrency < 0 {
		result.AddError("concurrency cannot be negative")
	}
}

func (c *Config) validateUsers(result *ValidationResult) {
	if len(c.Users) == 0 {
		result.AddWarning("no users configured; every event will be unrecognized")
	}

	names := make(map[string]bool)
	owners := make(map[string]string)
	for i, u := range c.Users {
		if u.Name == "" {
			result.AddError("users[%d] has no name", i)
			continue
		}
		if names[u.Name] {
			result.AddError("duplicate user %q", u.Name)
		}
		names[u.Name] = true

		if len(u.Aliases) == 0 {
			result.AddError("user %q has no aliases", u.Name)
		}
		for _, alias := range u.Aliases {
			if alias == "" {
				result.AddError("user %q has an empty alias", u.Name)
				continue
			}
			if other, ok := owners[alias]; ok && other != u.Name {
				result.AddError("alias %q is shared by %q and %q", alias, other, u.Name)
			}
			owners[alias] = u.Name
		}
	}
}

func (c *Config) validateRepositories(result *ValidationResult) {
	if len(c.Repositories) == 0 {
		result.AddWarning("no repositories configured")
	}

	seen := make(map[string]bool)
	hosts := make(map[models.HostKind]bool)
	for i, repo := range c.Repositories {
		if repo.Name == "" {
			result.AddError("repositories[%d] has no name", i)
			continue
		}
		if seen[repo.Name] {
			result.AddError("duplicate repository %q", repo.Name)
		}
		seen[repo.Name] = true
		hosts[repo.Host] = true

		switch repo.Host {
		case models.HostLocalGit, models.HostJira, models.HostJenkins:
		case models.HostSentry:
			if repo.Owner == "" && c.Sentry.Organization == "" {
				result.AddError("sentry project %q needs an owner or sentry.organization", repo.Name)
			}
		case models.HostBitbucket, models.HostGitHub:
			if repo.Owner == "" {
				result.AddError("repository %q on %s needs an owner", repo.Name, repo.Host)
			}
		default:
			result.AddError("repository %q has unknown host %q", repo.Name, repo.Host)
		}
	}

	if hosts[models.HostBitbucket] {
		validateURL(result, "bitbucket.base_url", c.Bitbucket.BaseURL)
		if c.Bitbucket.Username == "" || c.Bitbucket.Password == "" {
			result.AddError("bitbucket repositories need bitbucket.username and a password (run: dashi login bitbucket)")
		}
	}
	if hosts[models.HostJira] {
		validateURL(result, "jira.base_url", c.Jira.BaseURL)
		if c.Jira.Username == "" || c.Jira.Password == "" {
			result.AddError("jira projects need jira.username and a password (run: dashi login jira)")
		}
	}
	if hosts[models.HostJenkins] {
		validateURL(result, "jenkins.base_url", c.Jenkins.BaseURL)
	}
	if hosts[models.HostSentry] {
		validateURL(result, "sentry.base_url", c.Sentry.BaseURL)
		if c.Sentry.Token == "" {
			result.AddError("sentry projects need an auth token (run: dashi login sentry)")
		}
	}
	if hosts[models.HostGitHub] && c.GitHub.Token == "" {
		result.AddWarning("no GitHub token; only public repositories at the anonymous rate limit")
	}
}

func validateURL(result *ValidationResult, key, value string) {
	if value == "" {
		result.AddError("%s is required", key)
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		result.AddError("%s is not an absolute URL: %q", key, value)
	}
}

func (c *Config) validateStorage(result *ValidationResult) {
	if !c.Storage.Enabled {
		return
	}
	switch strings.ToLower(c.Storage.Type) {
	case "sqlite", "sqlite3":
		if c.Storage.LocalPath == "" {
			result.AddError("storage.local_path is required for sqlite")
		}
	case "postgres", "postgresql":
		if c.Storage.PostgresDSN == "" {
			result.AddError("storage.postgres_dsn is required for postgres")
		}
	default:
		result.AddError("storage.type must be sqlite or postgres, got %q", c.Storage.Type)
	}
}

func (c *Config) validateRemote(result *ValidationResult) {
	r := c.Remote
	if r.InitialBackoff <= 0 {
		result.AddError("remote.initial_backoff must be positive")
	}
	if r.Multiplier <= 1 {
		result.AddError("remote.multiplier must be greater than 1")
	}
	if r.MaxBackoff <= r.InitialBackoff {
		result.AddError("remote.max_backoff must exceed remote.initial_backoff")
	}
	if r.RateLimit < 0 {
		result.AddError("remote.rate_limit cannot be negative")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		result.AddError("archive.path is required when the archive is enabled")
	}
}
