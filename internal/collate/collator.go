package collate

import (
	"cmp"
	"encoding/json"
	stderrors "errors"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rohankatakam/dashi/internal/checkpoint"
	"github.com/rohankatakam/dashi/internal/diagnostics"
	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/identity"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/sirupsen/logrus"
)

// Collator groups events by resolved identity
type Collator struct {
	diag diagnostics.Sink
	now  func() time.Time
}

// NewCollator creates a collator reporting unrecognized authors to diag
func NewCollator(diag diagnostics.Sink) *Collator {
	return &Collator{
		diag: diag,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Collate attributes each event to a user and builds a fresh result.
//
// Events whose author matches no user are kept apart as unrecognized and
// excluded from the percentage denominator. An author matching several
// users aborts the collation.
func (c *Collator) Collate(users []models.User, events []models.Event) (*models.AggregateResult, error) {
	resolver := identity.NewResolver(users)

	buckets := make(map[string][]models.Event, len(users))
	for _, u := range users {
		buckets[u.Name] = nil
	}

	var unrecognized []models.Event
	for _, event := range events {
		user, err := resolver.Resolve(event.Author)
		if err != nil {
			if stderrors.Is(err, errors.ErrUnknownAuthor) {
				unrecognized = append(unrecognized, event)
				c.diag.Record(diagnostics.Diagnostic{
					Kind:    diagnostics.KindUnknownAuthor,
					Source:  event.Source,
					Message: "Event did not match any known users",
					Fields: logrus.Fields{
						"author": event.Author,
						"id":     event.ID,
						"kind":   event.Kind,
					},
				})
				continue
			}
			return nil, err
		}
		buckets[user.Name] = append(buckets[user.Name], event)
	}

	recognized := len(events) - len(unrecognized)

	result := &models.AggregateResult{
		RunID:        uuid.NewString(),
		GeneratedAt:  c.now(),
		Users:        make(map[string]models.UserStats, len(buckets)),
		Total:        len(events),
		Unrecognized: SortEvents(unrecognized),
	}
	for name, bucket := range buckets {
		result.Users[name] = models.UserStats{
			Events:     SortEvents(bucket),
			Percentage: Percentage(len(bucket), recognized),
		}
	}

	return result, nil
}

// Percentage is round(count/total, 2) * 100, and 0 when total is 0
func Percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count) / float64(total) * 100)
}

// SortEvents returns a copy of events ordered by (source, timestamp, id).
// The order depends only on event content, never on input order.
func SortEvents(events []models.Event) []models.Event {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, compareEvents)
	return sorted
}

func compareEvents(a, b models.Event) int {
	return cmp.Or(
		strings.Compare(a.Source, b.Source),
		a.Timestamp.Compare(b.Timestamp),
		strings.Compare(a.ID, b.ID),
		strings.Compare(string(a.Kind), string(b.Kind)),
		strings.Compare(a.Author, b.Author),
	)
}

// Periods counts recognized events per user inside each window and keeps
// each build job's highest test count. Events outside every window are
// ignored.
func Periods(result *models.AggregateResult, windows []models.TimeWindow) []models.PeriodStats {
	stats := make([]models.PeriodStats, len(windows))
	for i, w := range windows {
		stats[i] = models.PeriodStats{Window: w, ByUser: make(map[string]int)}
	}

	for name, us := range result.Users {
		for _, event := range us.Events {
			i := checkpoint.Locate(windows, event.Timestamp)
			if i < 0 {
				continue
			}
			stats[i].Total++
			stats[i].ByUser[name]++
			maxTests(&stats[i], event)
		}
	}
	for _, event := range result.Unrecognized {
		if i := checkpoint.Locate(windows, event.Timestamp); i >= 0 {
			maxTests(&stats[i], event)
		}
	}

	return stats
}

func maxTests(p *models.PeriodStats, event models.Event) {
	p.Tests = keepMaxTests(p.Tests, event)
}

// TestsByWindow returns, per window, each build job's highest test count.
// Windows without builds get a nil map.
func TestsByWindow(windows []models.TimeWindow, events []models.Event) []map[string]int {
	tests := make([]map[string]int, len(windows))
	for _, event := range events {
		if i := checkpoint.Locate(windows, event.Timestamp); i >= 0 {
			tests[i] = keepMaxTests(tests[i], event)
		}
	}
	return tests
}

func keepMaxTests(tests map[string]int, event models.Event) map[string]int {
	if event.Kind != models.EventBuild {
		return tests
	}
	n, ok := BuildTestCount(event)
	if !ok {
		return tests
	}
	if tests == nil {
		tests = make(map[string]int)
	}
	if cur, seen := tests[event.Source]; !seen || n > cur {
		tests[event.Source] = n
	}
	return tests
}

// BuildTestCount reads the "tests" field of a build event. Events decoded from
// JSON carry it as a float64 or json.Number.
func BuildTestCount(event models.Event) (int, bool) {
	switch v := event.Fields["tests"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}
