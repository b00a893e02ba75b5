package config

import (
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestManager(t *testing.T) *CredentialManager {
	t.Helper()
	for _, s := range Services {
		for _, env := range s.envVars() {
			t.Setenv(env, "")
		}
	}
	return NewCredentialManager(filepath.Join(t.TempDir(), "credentials.yaml"), quietLogger())
}

func TestSecret_PriorityChain(t *testing.T) {
	keyring.MockInit()
	cm := newTestManager(t)

	// nothing anywhere
	secret, err := cm.Secret(ServiceJira)
	require.NoError(t, err)
	assert.Empty(t, secret)

	// credentials file
	require.NoError(t, cm.saveConfigFile(Credentials{JiraPassword: "from-file"}))
	secret, err = cm.Secret(ServiceJira)
	require.NoError(t, err)
	assert.Equal(t, "from-file", secret)

	// keychain beats the file
	require.NoError(t, cm.keyring.Set("jira-password", "from-keychain"))
	secret, err = cm.Secret(ServiceJira)
	require.NoError(t, err)
	assert.Equal(t, "from-keychain", secret)

	// environment beats everything
	t.Setenv("DASHI_JIRA_PASSWORD", "from-env")
	secret, err = cm.Secret(ServiceJira)
	require.NoError(t, err)
	assert.Equal(t, "from-env", secret)
}

func TestSecret_GitHubEnvFallbacks(t *testing.T) {
	keyring.MockInit()
	cm := newTestManager(t)

	t.Setenv("GH_TOKEN", "gh-token")
	secret, err := cm.Secret(ServiceGitHub)
	require.NoError(t, err)
	assert.Equal(t, "gh-token", secret)
}

func TestSave_Keychain(t *testing.T) {
	keyring.MockInit()
	cm := newTestManager(t)

	where, err := cm.Save(ServiceBitbucket, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "keychain", where)

	stored, err := keyring.Get(KeyringService, "bitbucket-password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", stored)

	_, err = os.Stat(cm.ConfigPath())
	assert.True(t, os.IsNotExist(err), "no plaintext file when a keychain exists")
}

func TestSave_FileFallback(t *testing.T) {
	keyring.MockInitWithError(stderrors.New("no secret service"))
	defer keyring.MockInit()
	cm := newTestManager(t)

	where, err := cm.Save(ServiceJenkins, "token-1")
	require.NoError(t, err)
	assert.Equal(t, cm.ConfigPath(), where)

	_, err = cm.Save(ServiceGitHub, "ghp_x")
	require.NoError(t, err)

	info, err := os.Stat(cm.ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	creds, err := cm.loadConfigFile()
	require.NoError(t, err)
	assert.Equal(t, "token-1", creds.JenkinsPassword)
	assert.Equal(t, "ghp_x", creds.GitHubToken)
}

func TestSave_Empty(t *testing.T) {
	keyring.MockInit()
	_, err := newTestManager(t).Save(ServiceJira, "")
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	keyring.MockInit()
	cm := newTestManager(t)
	require.NoError(t, cm.keyring.Set("bitbucket-password", "from-keychain"))
	require.NoError(t, cm.keyring.Set("jira-password", "from-keychain"))

	cfg := Default()
	cfg.Jira.Password = "from-config"

	require.NoError(t, cm.Apply(cfg))
	assert.Equal(t, "from-keychain", cfg.Bitbucket.Password)
	assert.Equal(t, "from-config", cfg.Jira.Password)
	assert.Empty(t, cfg.Jenkins.Password)
}

func TestApply_SentryToken(t *testing.T) {
	keyring.MockInit()
	cm := newTestManager(t)
	t.Setenv("SENTRY_AUTH_TOKEN", "sntrys_env")

	cfg := Default()
	require.NoError(t, cm.Apply(cfg))
	assert.Equal(t, "sntrys_env", cfg.Sentry.Token)

	require.NoError(t, cm.keyring.Set("sentry-token", "from-keychain"))
	t.Setenv("SENTRY_AUTH_TOKEN", "")
	cfg = Default()
	require.NoError(t, cm.Apply(cfg))
	assert.Equal(t, "from-keychain", cfg.Sentry.Token)
}

func TestPrompt(t *testing.T) {
	keyring.MockInit()
	cm := newTestManager(t)

	var out strings.Builder
	where, err := cm.Prompt(ServiceJira, strings.NewReader("  hunter2 \n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "keychain", where)
	assert.Contains(t, out.String(), "Enter jira password")

	secret, err := cm.Secret(ServiceJira)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}

func TestParseService(t *testing.T) {
	s, err := ParseService("GitHub")
	require.NoError(t, err)
	assert.Equal(t, ServiceGitHub, s)

	_, err = ParseService("gitlab")
	assert.Error(t, err)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "***cdef", MaskSecret("0123456789abcdef"))
}
