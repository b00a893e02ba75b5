package models

import (
	"time"
)

// HostKind identifies where a repository or project's activity lives
type HostKind string

const (
	HostLocalGit  HostKind = "local-git"
	HostBitbucket HostKind = "bitbucket"
	HostGitHub    HostKind = "github"
	HostJira      HostKind = "jira"
	HostJenkins   HostKind = "jenkins"
	HostSentry    HostKind = "sentry"
)

// EventKind classifies a normalized event
type EventKind string

const (
	EventCommit EventKind = "commit"
	EventIssue  EventKind = "issue"
	EventBuild  EventKind = "build"
)

// Repository is a configured repository or project. Read-only after load.
type Repository struct {
	Name  string   `json:"name" mapstructure:"name" yaml:"name"`
	Host  HostKind `json:"host" mapstructure:"host" yaml:"host"`
	Path  string   `json:"path,omitempty" mapstructure:"path" yaml:"path"`
	Owner string   `json:"owner,omitempty" mapstructure:"owner" yaml:"owner"`
}

// User is a known human identity. Aliases always include the identity string
// the source systems report (usually an email).
type User struct {
	Name    string   `json:"name" mapstructure:"name" yaml:"name"`
	Aliases []string `json:"aliases" mapstructure:"aliases" yaml:"aliases"`
}

// CommitRecord is one commit parsed from version-control log output
type CommitRecord struct {
	Hash         string    `json:"hash" db:"hash"`
	Author       string    `json:"author" db:"author"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	Repository   string    `json:"repository" db:"repository"`
	FilesChanged int       `json:"files_changed" db:"files_changed"`
	Insertions   int       `json:"insertions" db:"insertions"`
	Deletions    int       `json:"deletions" db:"deletions"`
}

// Event converts the commit into the normalized event model
func (c CommitRecord) Event() Event {
	return Event{
		ID:           c.Hash,
		Source:       c.Repository,
		Kind:         EventCommit,
		Author:       c.Author,
		Timestamp:    c.Timestamp,
		FilesChanged: c.FilesChanged,
		Insertions:   c.Insertions,
		Deletions:    c.Deletions,
	}
}

// RemoteEvent is one item from a paginated REST API. Fields holds the raw
// decoded item; ID, Timestamp and ResolvedBy are extracted from it.
type RemoteEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	Fields     map[string]any `json:"fields"`
}

// Event is the common shape every source normalizes its activity into
type Event struct {
	ID           string         `json:"id" db:"id"`
	Source       string         `json:"source" db:"source"`
	Kind         EventKind      `json:"kind" db:"kind"`
	Author       string         `json:"author" db:"author"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	FilesChanged int            `json:"files_changed,omitempty" db:"files_changed"`
	Insertions   int            `json:"insertions,omitempty" db:"insertions"`
	Deletions    int            `json:"deletions,omitempty" db:"deletions"`
	Fields       map[string]any `json:"fields,omitempty" db:"-"`
}

// TimeWindow is the half-open interval [Start, End)
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// UserStats is one user's slice of an aggregation run
type UserStats struct {
	Events     []Event `json:"events"`
	Percentage float64 `json:"percentage"`
}

// AggregateResult is the outcome of one collation run. It is never patched;
// a new run builds a new result.
type AggregateResult struct {
	RunID        string               `json:"run_id"`
	GeneratedAt  time.Time            `json:"generated_at"`
	Users        map[string]UserStats `json:"users"`
	Total        int                  `json:"total"`
	Unrecognized []Event              `json:"unrecognized"`
}

// Recognized returns the number of events attributed to a user
func (r *AggregateResult) Recognized() int {
	return r.Total - len(r.Unrecognized)
}

// PeriodStats counts recognized events per user inside one window
type PeriodStats struct {
	Window TimeWindow     `json:"window"`
	Total  int            `json:"total"`
	ByUser map[string]int `json:"by_user"`
	// Tests is the highest test count any build of a job reported in the
	// window, keyed by job. Unrecognized builds count too.
	Tests map[string]int `json:"tests,omitempty"`
}
