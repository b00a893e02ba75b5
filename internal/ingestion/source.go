package ingestion

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rohankatakam/dashi/internal/config"
	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/git"
	"github.com/rohankatakam/dashi/internal/github"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/rohankatakam/dashi/internal/remote"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Source is one configured repository or project that can produce events.
// Fetch returns the events in [since, until); a zero until is open-ended.
// Implementations share nothing mutable, so several can fetch at once.
type Source interface {
	Name() string
	Fetch(ctx context.Context, since, until time.Time) ([]models.Event, error)
}

// Endpoint is a REST service root with its credentials
type Endpoint struct {
	BaseURL     string
	Credentials remote.Credentials
}

// Deps are the shared collaborators sources are built from
type Deps struct {
	RepositoryRoot string
	Logs           *git.LogReader
	Remote         *remote.Client
	GitHub         *github.Client

	Bitbucket Endpoint
	Jira      Endpoint
	JiraJQL   string
	Jenkins   Endpoint
	Sentry    Endpoint
	SentryOrg string

	Logger *logrus.Logger
}

// NewDeps wires the clients every source kind needs from configuration.
// recorder may be nil.
func NewDeps(cfg *config.Config, logger *logrus.Logger, recorder remote.PageRecorder) (*Deps, error) {
	opts := []remote.Option{
		remote.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
		remote.WithBackoff(remote.Backoff{
			Initial:    cfg.Remote.InitialBackoff,
			Multiplier: cfg.Remote.Multiplier,
			Ceiling:    cfg.Remote.MaxBackoff,
		}),
		remote.WithLogger(logger),
	}
	if cfg.Remote.RateLimit > 0 {
		opts = append(opts, remote.WithRateLimit(rate.Limit(cfg.Remote.RateLimit), max(cfg.Remote.Burst, 1)))
	}
	if recorder != nil {
		opts = append(opts, remote.WithRecorder(recorder))
	}

	var ghOpts []github.Option
	ghOpts = append(ghOpts, github.WithLogger(logger))
	if cfg.GitHub.BaseURL != "" {
		ghOpts = append(ghOpts, github.WithBaseURL(cfg.GitHub.BaseURL))
	}
	gh, err := github.NewClient(&http.Client{Timeout: cfg.Remote.Timeout}, cfg.GitHub.Token, cfg.GitHub.RateLimit, ghOpts...)
	if err != nil {
		return nil, err
	}

	return &Deps{
		RepositoryRoot: cfg.RepositoryRoot,
		Logs:           git.NewLogReader(logger),
		Remote:         remote.NewClient(opts...),
		GitHub:         gh,
		Bitbucket: Endpoint{
			BaseURL:     cfg.Bitbucket.BaseURL,
			Credentials: remote.Credentials{Username: cfg.Bitbucket.Username, Password: cfg.Bitbucket.Password},
		},
		Jira: Endpoint{
			BaseURL:     cfg.Jira.BaseURL,
			Credentials: remote.Credentials{Username: cfg.Jira.Username, Password: cfg.Jira.Password},
		},
		JiraJQL: cfg.Jira.JQL,
		Jenkins: Endpoint{
			BaseURL:     cfg.Jenkins.BaseURL,
			Credentials: remote.Credentials{Username: cfg.Jenkins.Username, Password: cfg.Jenkins.Password},
		},
		Sentry: Endpoint{
			BaseURL:     cfg.Sentry.BaseURL,
			Credentials: remote.Credentials{Token: cfg.Sentry.Token},
		},
		SentryOrg: cfg.Sentry.Organization,
		Logger:    logger,
	}, nil
}

// NewSource builds the source for repo according to its host kind
func NewSource(repo models.Repository, deps *Deps) (Source, error) {
	switch repo.Host {
	case models.HostLocalGit:
		dir := repo.Path
		if dir == "" {
			dir = filepath.Join(deps.RepositoryRoot, repo.Name)
		}
		return &LocalSource{name: repo.Name, dir: dir, logs: deps.Logs}, nil

	case models.HostBitbucket:
		return &BitbucketSource{
			name:     repo.Name,
			owner:    repo.Owner,
			endpoint: deps.Bitbucket,
			client:   deps.Remote,
		}, nil

	case models.HostGitHub:
		return &GitHubSource{name: repo.Name, owner: repo.Owner, client: deps.GitHub}, nil

	case models.HostJira:
		return &JiraSource{
			project:  repo.Name,
			endpoint: deps.Jira,
			jql:      deps.JiraJQL,
			client:   deps.Remote,
			logger:   deps.Logger,
		}, nil

	case models.HostJenkins:
		return &JenkinsSource{job: repo.Name, endpoint: deps.Jenkins, client: deps.Remote}, nil

	case models.HostSentry:
		return &SentrySource{
			project:  repo.Name,
			org:      cmp.Or(repo.Owner, deps.SentryOrg),
			endpoint: deps.Sentry,
			client:   deps.Remote,
			logger:   deps.Logger,
		}, nil

	default:
		return nil, errors.ConfigErrorf("repository %q has unknown host %q", repo.Name, repo.Host)
	}
}

// NewSources builds one source per repository, in order
func NewSources(repos []models.Repository, deps *Deps) ([]Source, error) {
	sources := make([]Source, 0, len(repos))
	for _, repo := range repos {
		src, err := NewSource(repo, deps)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// inRange reports whether t is in [since, until); zero bounds are open
func inRange(t, since, until time.Time) bool {
	if !since.IsZero() && t.Before(since) {
		return false
	}
	if !until.IsZero() && !t.Before(until) {
		return false
	}
	return true
}

func filterRange(events []models.Event, since, until time.Time) []models.Event {
	kept := events[:0:0]
	for _, e := range events {
		if inRange(e.Timestamp, since, until) {
			kept = append(kept, e)
		}
	}
	return kept
}

func joinURL(base string, parts ...string) string {
	u := base
	for _, p := range parts {
		if len(u) > 0 && u[len(u)-1] == '/' {
			u = u[:len(u)-1]
		}
		u = fmt.Sprintf("%s/%s", u, p)
	}
	return u
}
