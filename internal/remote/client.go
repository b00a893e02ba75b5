package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Credentials authenticate against a REST source with HTTP Basic auth, or
// with a bearer token when Token is set
type Credentials struct {
	Username string
	Password string
	Token    string
}

// IsZero reports whether no credentials were supplied
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == "" && c.Token == ""
}

// AuthorizationHeader returns "Bearer token" or "Basic base64(username:password)"
func (c Credentials) AuthorizationHeader() string {
	if c.Token != "" {
		return "Bearer " + c.Token
	}
	value := c.Username + ":" + c.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(value))
}

// Backoff controls how throttled (HTTP 429) requests are retried. The delay
// starts at Initial and is multiplied by Multiplier after each throttled
// attempt; once the next delay would reach Ceiling the request is abandoned.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Ceiling    time.Duration
}

// DefaultBackoff starts at one second, grows by half each attempt and gives
// up at thirty seconds: nine attempts at most.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Multiplier: 1.5,
		Ceiling:    30 * time.Second,
	}
}

// PageRecorder receives every successfully fetched response body
type PageRecorder interface {
	RecordPage(ctx context.Context, url string, body []byte) error
}

// Client fetches JSON from throttling, paginated REST APIs. It keeps no
// state between calls; each request owns its own backoff.
type Client struct {
	http     *http.Client
	backoff  Backoff
	limiter  *rate.Limiter
	recorder PageRecorder
	logger   *logrus.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackoff replaces DefaultBackoff
func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithRateLimit spaces requests out proactively, before the server throttles
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithRecorder archives every fetched page
func WithRecorder(r PageRecorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithLogger sets the logger used for throttling and paging messages
func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleeper replaces the timer used between throttled attempts
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a Client
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		backoff: DefaultBackoff(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(io.Discard)
	}
	return c
}

// page is the body shape of a cursor-paginated endpoint
type page struct {
	Values []map[string]any `json:"values"`
	Next   string           `json:"next"`
}

// FetchAll follows the `next` links starting at endpoint and returns the
// items of every page, in page order.
func (c *Client) FetchAll(ctx context.Context, endpoint string, creds Credentials) ([]models.RemoteEvent, error) {
	var events []models.RemoteEvent
	seen := make(map[string]bool)

	url := endpoint
	for url != "" {
		if seen[url] {
			return nil, errors.ValidationErrorf("pagination loop: %s was already fetched", url)
		}
		seen[url] = true

		var p page
		if err := c.GetJSON(ctx, url, creds, &p); err != nil {
			return nil, err
		}

		for i, item := range p.Values {
			event, err := DecodeEvent(item)
			if err != nil {
				return nil, fmt.Errorf("item %d of %s: %w", i, url, err)
			}
			events = append(events, event)
		}

		c.logger.WithFields(logrus.Fields{
			"url":   url,
			"items": len(p.Values),
			"total": len(events),
		}).Debug("Fetched page")

		url = p.Next
	}

	return events, nil
}

// GetJSON performs one GET and decodes the JSON body into out. Throttled
// responses are retried with backoff; an empty body leaves out untouched.
func (c *Client) GetJSON(ctx context.Context, url string, creds Credentials, out any) error {
	_, err := c.GetJSONPage(ctx, url, creds, out)
	return err
}

// GetJSONPage is GetJSON for APIs that paginate with a Link header. It
// returns the URL of the next page, or "" on the last one.
func (c *Client) GetJSONPage(ctx context.Context, url string, creds Credentials, out any) (string, error) {
	body, header, err := c.get(ctx, url, creds)
	if err != nil {
		return "", err
	}
	next := NextLink(header)
	if len(bytes.TrimSpace(body)) == 0 {
		return next, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return "", errors.ValidationErrorf("decode response from %s: %v", url, err)
	}
	return next, nil
}

// NextLink returns the rel="next" target of a Link header. A next link
// marked results="false" (Sentry's cursor pagination) means there is none.
func NextLink(header http.Header) string {
	for _, value := range header.Values("Link") {
		for _, link := range strings.Split(value, ",") {
			parts := strings.Split(link, ";")
			target := strings.TrimSpace(parts[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}

			isNext, results := false, true
			for _, param := range parts[1:] {
				key, val, _ := strings.Cut(strings.TrimSpace(param), "=")
				val = strings.Trim(val, `"`)
				switch strings.ToLower(key) {
				case "rel":
					isNext = val == "next"
				case "results":
					results = val != "false"
				}
			}
			if isNext && results {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, url string, creds Credentials) ([]byte, http.Header, error) {
	delay := c.backoff.Initial

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		status, header, body, err := c.do(ctx, url, creds)
		if err != nil {
			return nil, nil, err
		}

		switch status {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			if c.recorder != nil {
				if err := c.recorder.RecordPage(ctx, url, body); err != nil {
					c.logger.WithError(err).WithField("url", url).Warn("Failed to archive page")
				}
			}
			return body, header, nil

		case http.StatusTooManyRequests:
			next := time.Duration(float64(delay) * c.backoff.Multiplier)
			if next >= c.backoff.Ceiling {
				return nil, nil, errors.ThrottleExhausted(url, attempt)
			}
			c.logger.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt,
				"wait":    delay.String(),
			}).Debug("Being throttled, backing off")

			if err := c.sleep(ctx, delay); err != nil {
				return nil, nil, err
			}
			delay = next

		default:
			return nil, nil, errors.RemoteRequestFailed(url, status, string(body))
		}
	}
}

func (c *Client) do(ctx context.Context, url string, creds Credentials) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, errors.ValidationErrorf("build request for %s: %v", url, err)
	}
	req.Header.Set("Accept", "application/json")
	if !creds.IsZero() {
		req.Header.Set("Authorization", creds.AuthorizationHeader())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, nil, ctxErr
		}
		return 0, nil, nil, errors.NetworkErrorf(err, "GET %s", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, errors.NetworkErrorf(err, "read body of %s", url)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
