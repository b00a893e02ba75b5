package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Service is a remote system dashi authenticates against
type Service string

const (
	ServiceBitbucket Service = "bitbucket"
	ServiceGitHub    Service = "github"
	ServiceJira      Service = "jira"
	ServiceJenkins   Service = "jenkins"
	ServiceSentry    Service = "sentry"
)

// Services lists every service accepted by login
var Services = []Service{ServiceBitbucket, ServiceGitHub, ServiceJira, ServiceJenkins, ServiceSentry}

// ParseService validates a service name
func ParseService(name string) (Service, error) {
	for _, s := range Services {
		if strings.EqualFold(string(s), name) {
			return s, nil
		}
	}
	return "", errors.ValidationErrorf("unknown service %q (want bitbucket, github, jira, jenkins or sentry)", name)
}

// keyringItem is the keychain item holding the service's secret
func (s Service) keyringItem() string {
	switch s {
	case ServiceGitHub, ServiceSentry:
		return string(s) + "-token"
	default:
		return string(s) + "-password"
	}
}

// envVars are checked in order before any stored secret
func (s Service) envVars() []string {
	switch s {
	case ServiceGitHub:
		return []string{"DASHI_GITHUB_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"}
	case ServiceSentry:
		return []string{"DASHI_SENTRY_TOKEN", "SENTRY_AUTH_TOKEN"}
	default:
		return []string{"DASHI_" + strings.ToUpper(string(s)) + "_PASSWORD"}
	}
}

// Credentials is the plaintext credentials file, used only when no
// keychain is available
type Credentials struct {
	BitbucketPassword string `yaml:"bitbucket_password,omitempty"`
	GitHubToken       string `yaml:"github_token,omitempty"`
	JiraPassword      string `yaml:"jira_password,omitempty"`
	JenkinsPassword   string `yaml:"jenkins_password,omitempty"`
	SentryToken       string `yaml:"sentry_token,omitempty"`
}

func (c *Credentials) get(s Service) string {
	switch s {
	case ServiceBitbucket:
		return c.BitbucketPassword
	case ServiceGitHub:
		return c.GitHubToken
	case ServiceJira:
		return c.JiraPassword
	case ServiceJenkins:
		return c.JenkinsPassword
	case ServiceSentry:
		return c.SentryToken
	}
	return ""
}

func (c *Credentials) set(s Service, secret string) {
	switch s {
	case ServiceBitbucket:
		c.BitbucketPassword = secret
	case ServiceGitHub:
		c.GitHubToken = secret
	case ServiceJira:
		c.JiraPassword = secret
	case ServiceJenkins:
		c.JenkinsPassword = secret
	case ServiceSentry:
		c.SentryToken = secret
	}
}

// CredentialManager handles credential retrieval with priority chain
// Priority: Environment Variables → Keychain → Credentials File
type CredentialManager struct {
	keyring    *KeyringManager
	configPath string
	logger     *logrus.Logger
}

// DefaultCredentialsPath is ~/.config/dashi/credentials.yaml
func DefaultCredentialsPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "dashi", "credentials.yaml")
}

// NewCredentialManager creates a credential manager backed by the
// credentials file at configPath
func NewCredentialManager(configPath string, logger *logrus.Logger) *CredentialManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CredentialManager{
		keyring:    NewKeyringManager(logger),
		configPath: configPath,
		logger:     logger,
	}
}

// Secret retrieves the secret for s. Not finding one is "" with no error;
// Validate reports remote hosts that still lack one.
func (cm *CredentialManager) Secret(s Service) (string, error) {
	// 1. Environment variable (highest priority)
	for _, envVar := range s.envVars() {
		if secret := os.Getenv(envVar); secret != "" {
			return secret, nil
		}
	}

	// 2. Keychain (macOS/Linux)
	if cm.keyring.IsAvailable() {
		if secret, err := cm.keyring.Get(s.keyringItem()); err == nil && secret != "" {
			return secret, nil
		}
	}

	// 3. Credentials file
	creds, err := cm.loadConfigFile()
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityMedium,
			fmt.Sprintf("failed to read credentials file %s", cm.configPath))
	}
	return creds.get(s), nil
}

// Apply fills every empty secret in cfg from the priority chain. Values
// already present in the config file are kept.
func (cm *CredentialManager) Apply(cfg *Config) error {
	targets := []struct {
		service Service
		field   *string
	}{
		{ServiceBitbucket, &cfg.Bitbucket.Password},
		{ServiceGitHub, &cfg.GitHub.Token},
		{ServiceJira, &cfg.Jira.Password},
		{ServiceJenkins, &cfg.Jenkins.Password},
		{ServiceSentry, &cfg.Sentry.Token},
	}

	for _, t := range targets {
		if *t.field != "" {
			continue
		}
		secret, err := cm.Secret(t.service)
		if err != nil {
			return err
		}
		*t.field = secret
	}
	return nil
}

// Save stores a secret in the keychain, or the credentials file when no
// keychain is available. It reports where the secret went.
func (cm *CredentialManager) Save(s Service, secret string) (string, error) {
	if secret == "" {
		return "", errors.ValidationErrorf("%s secret cannot be empty", s)
	}

	if cm.keyring.IsAvailable() {
		if err := cm.keyring.Set(s.keyringItem(), secret); err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
				fmt.Sprintf("failed to save %s secret to keychain", s))
		}
		return "keychain", nil
	}

	creds, err := cm.loadConfigFile()
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	if creds == nil {
		creds = &Credentials{}
	}
	creds.set(s, secret)
	if err := cm.saveConfigFile(*creds); err != nil {
		return "", err
	}
	return cm.configPath, nil
}

// Prompt asks for the secret of s without echoing and saves it
func (cm *CredentialManager) Prompt(s Service, in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintf(out, "Enter %s %s: ", s, secretNoun(s))
	secret, err := readSecurely(in, out)
	if err != nil {
		return "", err
	}
	return cm.Save(s, secret)
}

func secretNoun(s Service) string {
	switch s {
	case ServiceGitHub, ServiceSentry:
		return "token"
	default:
		return "password or API token"
	}
}

// loadConfigFile loads credentials from the credentials file
func (cm *CredentialManager) loadConfigFile() (*Credentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

// saveConfigFile saves credentials with user-only permissions
func (cm *CredentialManager) saveConfigFile(creds Credentials) error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	return os.WriteFile(cm.configPath, data, 0600)
}

// ConfigPath returns the path to the credentials file
func (cm *CredentialManager) ConfigPath() string {
	return cm.configPath
}

// readSecurely reads a password/token without echoing when in is the
// terminal, and a plain line otherwise (piped input, tests)
func readSecurely(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && f.Fd() == uintptr(syscall.Stdin) && term.IsTerminal(int(syscall.Stdin)) {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
