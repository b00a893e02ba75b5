package ingestion

import (
	"cmp"
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/git"
	"github.com/rohankatakam/dashi/internal/github"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/rohankatakam/dashi/internal/remote"
	"github.com/sirupsen/logrus"
)

// LocalSource reads commits from a working copy with git log
type LocalSource struct {
	name string
	dir  string
	logs *git.LogReader
}

func (s *LocalSource) Name() string { return s.name }

func (s *LocalSource) Fetch(ctx context.Context, since, until time.Time) ([]models.Event, error) {
	commits, err := s.logs.ReadCommits(ctx, s.dir, s.name, since, until)
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, len(commits))
	for i, c := range commits {
		events[i] = c.Event()
	}
	return events, nil
}

// BitbucketSource pages through the commits endpoint of a Bitbucket
// repository. The endpoint has no date filter, so the range is applied to
// every commit fetched.
type BitbucketSource struct {
	name     string
	owner    string
	endpoint Endpoint
	client   *remote.Client
}

func (s *BitbucketSource) Name() string { return s.name }

func (s *BitbucketSource) Fetch(ctx context.Context, since, until time.Time) ([]models.Event, error) {
	endpoint := joinURL(s.endpoint.BaseURL, "repositories", url.PathEscape(s.owner), url.PathEscape(s.name), "commits")

	items, err := s.client.FetchAll(ctx, endpoint, s.endpoint.Credentials)
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(items))
	for _, item := range items {
		if !inRange(item.Timestamp, since, until) {
			continue
		}
		events = append(events, models.Event{
			ID:        item.ID,
			Source:    s.name,
			Kind:      models.EventCommit,
			Author:    bitbucketAuthor(item.Fields),
			Timestamp: item.Timestamp,
			Fields:    item.Fields,
		})
	}
	return events, nil
}

// bitbucketAuthor prefers the email inside author.raw ("Name <email>"),
// which is what aliases hold, then the raw string, then the account name
func bitbucketAuthor(item map[string]any) string {
	raw := remote.LookupString(item, "author", "raw")
	if raw != "" {
		if addr, err := mail.ParseAddress(raw); err == nil {
			return addr.Address
		}
		return raw
	}
	return remote.LookupString(item, "author", "user", "display_name")
}

// GitHubSource lists commits through the GitHub REST API
type GitHubSource struct {
	name   string
	owner  string
	client *github.Client
}

func (s *GitHubSource) Name() string { return s.name }

func (s *GitHubSource) Fetch(ctx context.Context, since, until time.Time) ([]models.Event, error) {
	return s.client.FetchCommits(ctx, s.owner, s.name, since, until)
}

// jiraPageSize is the maxResults requested per search page
const jiraPageSize = 100

type jiraSearch struct {
	StartAt    int              `json:"startAt"`
	MaxResults int              `json:"maxResults"`
	Total      int              `json:"total"`
	Issues     []map[string]any `json:"issues"`
}

// JiraSource reports the issues of a project resolved in the range. The
// author is the resolver when the instance exposes one, else the assignee.
type JiraSource struct {
	project  string
	endpoint Endpoint
	jql      string
	client   *remote.Client
	logger   *logrus.Logger
}

func (s *JiraSource) Name() string { return s.project }

// JQL returns the search query for [since, until)
func (s *JiraSource) JQL(since, until time.Time) string {
	const layout = "2006-01-02 15:04"

	clauses := []string{fmt.Sprintf("project = %q", s.project), "resolved is not EMPTY"}
	if !since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("resolved >= %q", since.UTC().Format(layout)))
	}
	if !until.IsZero() {
		clauses = append(clauses, fmt.Sprintf("resolved < %q", until.UTC().Format(layout)))
	}
	if s.jql != "" {
		clauses = append(clauses, "("+s.jql+")")
	}
	return strings.Join(clauses, " AND ") + " ORDER BY resolved ASC"
}

func (s *JiraSource) Fetch(ctx context.Context, since, until time.Time) ([]models.Event, error) {
	jql := s.JQL(since, until)
	var events []models.Event

	for startAt := 0; ; {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(jiraPageSize))
		q.Set("fields", "assignee,resolutiondate,resolution,summary")
		pageURL := joinURL(s.endpoint.BaseURL, "rest", "api", "2", "search") + "?" + q.Encode()

		var page jiraSearch
		if err := s.client.GetJSON(ctx, pageURL, s.endpoint.Credentials, &page); err != nil {
			return nil, err
		}

		for _, issue := range page.Issues {
			event, err := jiraEvent(s.project, issue)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}

		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"project": s.project,
				"startAt": startAt,
				"issues":  len(page.Issues),
				"total":   page.Total,
			}).Debug("Fetched Jira search page")
		}

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}

	return events, nil
}

func jiraEvent(project string, issue map[string]any) (models.Event, error) {
	key := remote.LookupString(issue, "key")
	if key == "" {
		return models.Event{}, errors.ValidationErrorf("jira issue in %s has no key", project)
	}

	raw, ok := remote.Lookup(issue, "fields", "resolutiondate")
	if !ok {
		return models.Event{}, errors.ValidationErrorf("jira issue %s has no resolution date", key)
	}
	ts, err := remote.ParseTimestamp(raw)
	if err != nil {
		return models.Event{}, errors.ValidationErrorf("jira issue %s: %v", key, err)
	}

	author := remote.LookupString(issue, "resolved_by")
	if author == "" {
		author = remote.LookupString(issue, "fields", "assignee", "emailAddress")
	}
	if author == "" {
		author = remote.LookupString(issue, "fields", "assignee", "displayName")
	}

	return models.Event{
		ID:        key,
		Source:    project,
		Kind:      models.EventIssue,
		Author:    author,
		Timestamp: ts,
		Fields: map[string]any{
			"summary":    remote.LookupString(issue, "fields", "summary"),
			"resolution": remote.LookupString(issue, "fields", "resolution", "name"),
		},
	}, nil
}

// jenkinsTree limits the job API response to what a build event needs
const jenkinsTree = "builds[number,timestamp,result,duration,culprits[fullName],actions[totalCount,failCount,skipCount]]"

// JenkinsSource reports the builds of a job. A build is attributed to its
// first culprit; builds without one are unattributable.
type JenkinsSource struct {
	job      string
	endpoint Endpoint
	client   *remote.Client
}

func (s *JenkinsSource) Name() string { return s.job }

func (s *JenkinsSource) Fetch(ctx context.Context, since, until time.Time) ([]models.Event, error) {
	jobURL := joinURL(s.endpoint.BaseURL, "job", url.PathEscape(s.job), "api", "json") +
		"?" + url.Values{"tree": {jenkinsTree}}.Encode()

	var job struct {
		Builds []map[string]any `json:"builds"`
	}
	if err := s.client.GetJSON(ctx, jobURL, s.endpoint.Credentials, &job); err != nil {
		return nil, err
	}

	var events []models.Event
	for _, build := range job.Builds {
		item, err := remote.DecodeEvent(build)
		if err != nil {
			return nil, fmt.Errorf("jenkins job %s: %w", s.job, err)
		}
		if !inRange(item.Timestamp, since, until) {
			continue
		}

		culprits := jenkinsCulprits(build)
		author := item.ResolvedBy
		if author == "" && len(culprits) > 0 {
			author = culprits[0]
		}

		events = append(events, models.Event{
			ID:        item.ID,
			Source:    s.job,
			Kind:      models.EventBuild,
			Author:    author,
			Timestamp: item.Timestamp,
			Fields: map[string]any{
				"result":   remote.LookupString(build, "result"),
				"culprits": culprits,
				"tests":    jenkinsTestCount(build),
			},
		})
	}
	return events, nil
}

func jenkinsCulprits(build map[string]any) []string {
	list, _ := build["culprits"].([]any)
	var names []string
	for _, c := range list {
		if m, ok := c.(map[string]any); ok {
			if name := remote.LookupString(m, "fullName"); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// jenkinsTestCount sums totalCount over the build's test result actions
func jenkinsTestCount(build map[string]any) int {
	actions, _ := build["actions"].([]any)
	total := 0
	for _, a := range actions {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(remote.LookupString(m, "totalCount")); err == nil {
			total += n
		}
	}
	return total
}

// sentryPageSize is the limit requested per issue list page
const sentryPageSize = 100

// SentrySource reports the issues of a Sentry project resolved in the
// range. Each listed issue is fetched again for its activity, which names
// who resolved it and when.
type SentrySource struct {
	project  string
	org      string
	endpoint Endpoint
	client   *remote.Client
	logger   *logrus.Logger
}

func (s *SentrySource) Name() string { return s.project }

func (s *SentrySource) Fetch(ctx context.Context, since, until time.Time) ([]models.Event, error) {
	q := url.Values{}
	q.Set("query", "is:resolved")
	q.Set("limit", strconv.Itoa(sentryPageSize))
	pageURL := joinURL(s.endpoint.BaseURL, "api", "0", "projects", url.PathEscape(s.org), url.PathEscape(s.project), "groups") + "/?" + q.Encode()

	var events []models.Event
	seen := make(map[string]bool)
	for pageURL != "" {
		if seen[pageURL] {
			return nil, errors.ValidationErrorf("pagination loop: %s was already fetched", pageURL)
		}
		seen[pageURL] = true

		var groups []map[string]any
		next, err := s.client.GetJSONPage(ctx, pageURL, s.endpoint.Credentials, &groups)
		if err != nil {
			return nil, err
		}

		for _, group := range groups {
			id := remote.LookupString(group, "id")
			if id == "" {
				return nil, errors.ValidationErrorf("sentry issue in %s has no id", s.project)
			}

			var detail map[string]any
			detailURL := joinURL(s.endpoint.BaseURL, "api", "0", "groups", url.PathEscape(id)) + "/"
			if err := s.client.GetJSON(ctx, detailURL, s.endpoint.Credentials, &detail); err != nil {
				return nil, fmt.Errorf("sentry issue %s: %w", id, err)
			}

			event, err := sentryEvent(s.project, detail)
			if err != nil {
				return nil, err
			}
			if inRange(event.Timestamp, since, until) {
				events = append(events, event)
			}
		}

		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"project": s.project,
				"issues":  len(groups),
				"kept":    len(events),
			}).Debug("Fetched Sentry issue page")
		}

		pageURL = next
	}

	return events, nil
}

// sentryEvent attributes a resolved issue to whoever last resolved it. An
// issue without a resolve activity falls back to its assignee and the time
// it was last seen.
func sentryEvent(project string, group map[string]any) (models.Event, error) {
	id := remote.LookupString(group, "id")
	if id == "" {
		return models.Event{}, errors.ValidationErrorf("sentry issue in %s has no id", project)
	}

	var author string
	var ts time.Time
	activity, _ := group["activity"].([]any)
	for _, a := range activity {
		m, ok := a.(map[string]any)
		if !ok || !strings.HasPrefix(remote.LookupString(m, "type"), "set_resolved") {
			continue
		}
		raw, ok := remote.Lookup(m, "dateCreated")
		if !ok {
			continue
		}
		at, err := remote.ParseTimestamp(raw)
		if err != nil {
			return models.Event{}, errors.ValidationErrorf("sentry issue %s: %v", id, err)
		}
		if at.After(ts) {
			ts = at
			author = cmp.Or(remote.LookupString(m, "user", "email"), remote.LookupString(m, "user", "name"))
		}
	}

	if ts.IsZero() {
		raw, ok := remote.Lookup(group, "lastSeen")
		if !ok {
			return models.Event{}, errors.ValidationErrorf("sentry issue %s has no resolution time", id)
		}
		at, err := remote.ParseTimestamp(raw)
		if err != nil {
			return models.Event{}, errors.ValidationErrorf("sentry issue %s: %v", id, err)
		}
		ts = at
	}
	if author == "" {
		author = cmp.Or(remote.LookupString(group, "assignedTo", "email"), remote.LookupString(group, "assignedTo", "name"))
	}

	return models.Event{
		ID:        id,
		Source:    project,
		Kind:      models.EventIssue,
		Author:    author,
		Timestamp: ts,
		Fields: map[string]any{
			"title":    remote.LookupString(group, "title"),
			"short_id": remote.LookupString(group, "shortId"),
			"culprit":  remote.LookupString(group, "culprit"),
		},
	}, nil
}
