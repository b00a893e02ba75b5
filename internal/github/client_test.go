package github

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(server.Client(), "test-token", 0, WithBaseURL(server.URL), WithLogger(quietLogger()))
	require.NoError(t, err)
	return c
}

const commitPage1 = `[
  {"sha": "aaa111", "commit": {"author": {"email": "alice@x.com", "date": "2015-01-05T10:00:00Z"}, "message": "Add api\n\nbody"}, "author": {"login": "alice"}},
  {"sha": "bbb222", "commit": {"author": {"email": "", "date": "2015-01-06T10:00:00Z"}, "message": "Fix"}, "author": {"login": "bob"}}
]`

const commitPage2 = `[
  {"sha": "ccc333", "commit": {"author": {"email": "carol@x.com", "date": "2015-01-07T10:00:00+02:00"}, "message": "Docs"}}
]`

func TestFetchCommits(t *testing.T) {
	var authHeaders []string
	var server string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/lib/commits", r.URL.Path)
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		assert.Equal(t, "2015-01-01T00:00:00Z", r.URL.Query().Get("since"))

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, commitPage2)
			return
		}
		server = "http://" + r.Host
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/lib/commits?page=2>; rel="next"`, server))
		fmt.Fprint(w, commitPage1)
	})

	since := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	events, err := c.FetchCommits(context.Background(), "acme", "lib", since, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "aaa111", events[0].ID)
	assert.Equal(t, "lib", events[0].Source)
	assert.Equal(t, "alice@x.com", events[0].Author)
	assert.Equal(t, "Add api", events[0].Fields["message"])

	// no email falls back to the login
	assert.Equal(t, "bob", events[1].Author)

	assert.Equal(t, time.Date(2015, 1, 7, 8, 0, 0, 0, time.UTC), events[2].Timestamp)

	assert.Equal(t, []string{"Bearer test-token", "Bearer test-token"}, authHeaders)
}

func TestFetchCommits_UntilIsExclusive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, commitPage1)
	})

	until := time.Date(2015, 1, 6, 10, 0, 0, 0, time.UTC)
	events, err := c.FetchCommits(context.Background(), "acme", "lib", time.Time{}, until)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "aaa111", events[0].ID)
}

func TestFetchCommits_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
	})

	_, err := c.FetchCommits(context.Background(), "acme", "lib", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrThrottleExhausted), "got %v", err)
}

func TestFetchCommits_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	_, err := c.FetchCommits(context.Background(), "acme", "missing", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrRemoteRequestFailed), "got %v", err)

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, http.StatusNotFound, e.Context["status"])
}

func TestFetchCommits_Cancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchCommits(ctx, "acme", "lib", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "subject", firstLine("subject\n\nbody"))
	assert.Equal(t, "single", firstLine("single"))
}
