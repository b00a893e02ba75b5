package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper records requested delays without waiting
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type memoryRecorder struct {
	urls []string
}

func (m *memoryRecorder) RecordPage(_ context.Context, url string, _ []byte) error {
	m.urls = append(m.urls, url)
	return nil
}

func TestAuthorizationHeader(t *testing.T) {
	creds := Credentials{Username: "alice", Password: "secret"}
	assert.Equal(t, "Basic YWxpY2U6c2VjcmV0", creds.AuthorizationHeader())
	assert.False(t, creds.IsZero())
	assert.True(t, Credentials{}.IsZero())

	token := Credentials{Token: "sntrys_abc"}
	assert.Equal(t, "Bearer sntrys_abc", token.AuthorizationHeader())
	assert.False(t, token.IsZero())
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		name string
		link []string
		want string
	}{
		{"none", nil, ""},
		{
			"github style",
			[]string{`<https://api.example.com/x?page=2>; rel="next", <https://api.example.com/x?page=5>; rel="last"`},
			"https://api.example.com/x?page=2",
		},
		{
			"sentry with more results",
			[]string{`<https://sentry.io/api/0/x/?cursor=0:0:1>; rel="previous"; results="false"; cursor="0:0:1", <https://sentry.io/api/0/x/?cursor=0:100:0>; rel="next"; results="true"; cursor="0:100:0"`},
			"https://sentry.io/api/0/x/?cursor=0:100:0",
		},
		{
			"sentry last page",
			[]string{`<https://sentry.io/api/0/x/?cursor=0:0:1>; rel="previous"; results="true", <https://sentry.io/api/0/x/?cursor=0:200:0>; rel="next"; results="false"`},
			"",
		},
		{"malformed", []string{`https://x; rel="next"`}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for _, v := range tt.link {
				h.Add("Link", v)
			}
			assert.Equal(t, tt.want, NextLink(h))
		})
	}
}

func TestGetJSONPage_BearerAndNext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Link", `<http://next.example/p2>; rel="next"; results="true"`)
		fmt.Fprint(w, `[{"id":"1"}]`)
	}))
	defer server.Close()

	var items []map[string]any
	next, err := NewClient().GetJSONPage(context.Background(), server.URL, Credentials{Token: "tok"}, &items)
	require.NoError(t, err)
	assert.Equal(t, "http://next.example/p2", next)
	require.Len(t, items, 1)
}

func TestFetchAll_Pagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprintf(w, `{"values":[{"hash":"a1","date":"2015-01-05T10:00:00+00:00"},{"hash":"a2","date":"2015-01-06T10:00:00+00:00"}],"next":"%s/commits?page=2"}`, server.URL)
		case "2":
			fmt.Fprintf(w, `{"values":[{"hash":"b1","date":"2015-01-07T10:00:00+00:00"}],"next":"%s/commits?page=3"}`, server.URL)
		case "3":
			fmt.Fprint(w, `{"values":[{"hash":"c1","date":"2015-01-08T10:00:00+00:00"},{"hash":"c2","date":"2015-01-09T10:00:00+00:00"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	recorder := &memoryRecorder{}
	client := NewClient(WithRecorder(recorder))

	events, err := client.FetchAll(context.Background(), server.URL+"/commits", Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "b1", "c1", "c2"}, ids)
	assert.Equal(t, time.Date(2015, 1, 5, 10, 0, 0, 0, time.UTC), events[0].Timestamp)
	assert.Len(t, recorder.urls, 3)
}

func TestFetchAll_ThrottleExhausted(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := NewClient(WithSleeper(sleeper.sleep))

	_, err := client.FetchAll(context.Background(), server.URL, Credentials{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrThrottleExhausted))

	assert.Equal(t, int32(9), atomic.LoadInt32(&attempts))
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
		7593750 * time.Microsecond,
		11390625 * time.Microsecond,
		17085937500 * time.Nanosecond,
	}, sleeper.delays)
}

func TestFetchAll_RecoversAfterThrottle(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"values":[{"id":7,"timestamp":1420452000000}]}`)
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := NewClient(WithSleeper(sleeper.sleep))

	events, err := client.FetchAll(context.Background(), server.URL, Credentials{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "7", events[0].ID)
	assert.Equal(t, time.Date(2015, 1, 5, 10, 0, 0, 0, time.UTC), events[0].Timestamp)
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond}, sleeper.delays)
}

func TestFetchAll_RemoteRequestFailed(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "kaboom")
	}))
	defer server.Close()

	client := NewClient(WithSleeper((&recordingSleeper{}).sleep))

	_, err := client.FetchAll(context.Background(), server.URL, Credentials{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrRemoteRequestFailed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "non-throttle failures are not retried")

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, http.StatusInternalServerError, e.Context["status"])
	assert.Equal(t, "kaboom", e.Context["body"])
}

func TestFetchAll_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	events, err := NewClient().FetchAll(context.Background(), server.URL, Credentials{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFetchAll_PaginationLoop(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"values":[],"next":"%s/same"}`, server.URL)
	}))
	defer server.Close()

	_, err := NewClient().FetchAll(context.Background(), server.URL+"/same", Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pagination loop")
}

func TestFetchAll_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(WithBackoff(Backoff{Initial: time.Hour, Multiplier: 1.5, Ceiling: 10 * time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.FetchAll(ctx, server.URL, Credentials{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestGetJSON_RateLimited(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		fmt.Fprint(w, `{"total":3}`)
	}))
	defer server.Close()

	client := NewClient(WithRateLimit(1000, 1))

	for i := 0; i < 3; i++ {
		var out struct {
			Total int `json:"total"`
		}
		require.NoError(t, client.GetJSON(context.Background(), server.URL, Credentials{}, &out))
		assert.Equal(t, 3, out.Total)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}
