package diagnostics

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind classifies a diagnostic
type Kind string

const (
	KindUnknownAuthor Kind = "unknown_author"
	KindFetchSkipped  Kind = "fetch_skipped"
)

// Diagnostic is a non-fatal finding a run reports to its caller
type Diagnostic struct {
	Kind    Kind
	Source  string
	Message string
	Fields  logrus.Fields
	At      time.Time
}

// Sink receives diagnostics from the components of a run
type Sink interface {
	Record(d Diagnostic)
}

// Collector is a Sink that logs every diagnostic as a warning and keeps it
// for the caller. Safe for concurrent use.
type Collector struct {
	logger *logrus.Logger
	mu     sync.Mutex
	items  []Diagnostic
}

// NewCollector creates a collector. A nil logger discards log output.
func NewCollector(logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Collector{logger: logger}
}

// Record logs and stores d
func (c *Collector) Record(d Diagnostic) {
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}

	fields := logrus.Fields{"kind": d.Kind}
	if d.Source != "" {
		fields["source"] = d.Source
	}
	for k, v := range d.Fields {
		fields[k] = v
	}
	c.logger.WithFields(fields).Warn(d.Message)

	c.mu.Lock()
	c.items = append(c.items, d)
	c.mu.Unlock()
}

// Diagnostics returns a copy of everything recorded so far
func (c *Collector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

// Count returns how many diagnostics of kind k were recorded
func (c *Collector) Count(k Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, d := range c.items {
		if d.Kind == k {
			n++
		}
	}
	return n
}
