package github

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client wraps the GitHub API client with rate limiting
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
	logger      *logrus.Logger
}

// Option configures a Client
type Option func(*Client) error

// WithBaseURL points the client at a GitHub Enterprise API root
// (e.g. https://ghe.example.com/api/v3/)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("invalid github base url %q: %w", baseURL, err)
		}
		c.client.BaseURL = u
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// NewClient creates a new GitHub client with rate limiting. An empty token
// makes anonymous requests; rateLimit is requests per second.
func NewClient(httpClient *http.Client, token string, rateLimit int, opts ...Option) (*Client, error) {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	limit := rate.Inf
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
	}

	c := &Client{
		client:      client,
		rateLimiter: rate.NewLimiter(limit, 1),
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FetchCommits retrieves the commits of owner/name authored in
// [since, until); a zero until is open-ended. The author is the git author
// email, falling back to the account login.
func (c *Client) FetchCommits(ctx context.Context, owner, name string, since, until time.Time) ([]models.Event, error) {
	opts := &github.CommitsListOptions{
		Since: since,
		Until: until,
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var events []models.Event
	source := fmt.Sprintf("%s/%s", owner, name)

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, c.classify(err, source)
		}

		for _, commit := range commits {
			author := commit.GetCommit().GetAuthor().GetEmail()
			if author == "" {
				author = commit.GetAuthor().GetLogin()
			}

			ts := commit.GetCommit().GetAuthor().GetDate().Time.UTC()
			if !until.IsZero() && !ts.Before(until) {
				continue
			}

			events = append(events, models.Event{
				ID:        commit.GetSHA(),
				Source:    name,
				Kind:      models.EventCommit,
				Author:    author,
				Timestamp: ts,
				Fields: map[string]any{
					"login":   commit.GetAuthor().GetLogin(),
					"message": firstLine(commit.GetCommit().GetMessage()),
				},
			})
		}

		c.logger.WithFields(logrus.Fields{
			"repo":  source,
			"page":  opts.Page,
			"count": len(commits),
		}).Debug("Fetched GitHub commit page")

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return events, nil
}

// classify maps go-github failures onto the domain error kinds
func (c *Client) classify(err error, source string) error {
	var rateErr *github.RateLimitError
	if stderrors.As(err, &rateErr) {
		e := errors.ThrottleExhausted(source, 1).
			WithContext("reset", rateErr.Rate.Reset.Time.UTC().Format(time.RFC3339))
		e.Cause = err
		return e
	}

	var abuseErr *github.AbuseRateLimitError
	if stderrors.As(err, &abuseErr) {
		return errors.Wrap(err, errors.ErrorTypeNetwork, errors.SeverityHigh,
			fmt.Sprintf("github secondary rate limit hit for %s", source))
	}

	var respErr *github.ErrorResponse
	if stderrors.As(err, &respErr) && respErr.Response != nil && respErr.Response.Request != nil {
		return errors.RemoteRequestFailed(respErr.Response.Request.URL.String(), respErr.Response.StatusCode, respErr.Message)
	}

	return errors.NetworkErrorf(err, "fetch commits for %s", source)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
