package git

import (
	stderrors "errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLog(t *testing.T) {
	output := `"abc123 2015-03-02T10:00:00+02:00 john@example.com"
 3 files changed, 10 insertions(+), 5 deletions(-)

"def456 2015-03-03T14:30:00Z jane@example.com"
 1 file changed, 1 insertion(+)
"0a1b2c3 2015-03-04T09:00:00Z john@example.com"

"fff000 2015-03-05T09:00:00Z merge@example.com"
`

	commits, err := ParseLog(strings.NewReader(output), "api")
	require.NoError(t, err)
	require.Len(t, commits, 4)

	first := commits[0]
	assert.Equal(t, "abc123", first.Hash)
	assert.Equal(t, "john@example.com", first.Author)
	assert.Equal(t, "api", first.Repository)
	assert.Equal(t, time.Date(2015, 3, 2, 8, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, time.UTC, first.Timestamp.Location())
	assert.Equal(t, 3, first.FilesChanged)
	assert.Equal(t, 10, first.Insertions)
	assert.Equal(t, 5, first.Deletions)

	second := commits[1]
	assert.Equal(t, "def456", second.Hash)
	assert.Equal(t, 1, second.FilesChanged)
	assert.Equal(t, 1, second.Insertions)
	assert.Equal(t, 0, second.Deletions)

	// A header directly after another commit's stats closes that commit.
	assert.Equal(t, "0a1b2c3", commits[2].Hash)
	assert.Zero(t, commits[2].FilesChanged)

	assert.Equal(t, "fff000", commits[3].Hash)
}

func TestParseLog_Empty(t *testing.T) {
	commits, err := ParseLog(strings.NewReader(""), "api")
	require.NoError(t, err)
	assert.Empty(t, commits)

	commits, err = ParseLog(strings.NewReader("\n\n\n"), "api")
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestParseLog_OnlyDeletions(t *testing.T) {
	output := "\"abc 2015-01-05T00:00:00Z a@x.com\"\n 2 files changed, 7 deletions(-)\n"

	commits, err := ParseLog(strings.NewReader(output), "r")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, 2, commits[0].FilesChanged)
	assert.Equal(t, 0, commits[0].Insertions)
	assert.Equal(t, 7, commits[0].Deletions)
}

func TestParseLog_CRLF(t *testing.T) {
	output := "\"abc 2015-01-05T00:00:00Z a@x.com\"\r\n 1 file changed, 2 insertions(+)\r\n\r\n"

	commits, err := ParseLog(strings.NewReader(output), "r")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, 2, commits[0].Insertions)
}

func TestParseLog_Errors(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   error
		lineNo int
	}{
		{
			name:   "unquoted header",
			output: "abc 2015-01-05T00:00:00Z a@x.com\n",
			want:   errors.ErrUnrecognizedLine,
			lineNo: 1,
		},
		{
			name:   "header with missing author",
			output: "\"abc 2015-01-05T00:00:00Z\"\n",
			want:   errors.ErrUnrecognizedLine,
			lineNo: 1,
		},
		{
			name:   "header with bad date",
			output: "\"abc yesterday a@x.com\"\n",
			want:   errors.ErrUnrecognizedLine,
			lineNo: 1,
		},
		{
			name:   "indented garbage",
			output: "\"abc 2015-01-05T00:00:00Z a@x.com\"\n  something else entirely\n",
			want:   errors.ErrMalformedStatsLine,
			lineNo: 2,
		},
		{
			name:   "stats without header",
			output: " 1 file changed\n",
			want:   errors.ErrMalformedStatsLine,
			lineNo: 1,
		},
		{
			name:   "stray text after a commit",
			output: "\"abc 2015-01-05T00:00:00Z a@x.com\"\n\nMerge branch 'master'\n",
			want:   errors.ErrUnrecognizedLine,
			lineNo: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commits, err := ParseLog(strings.NewReader(tt.output), "r")
			require.Error(t, err)
			assert.Nil(t, commits)
			assert.True(t, stderrors.Is(err, tt.want), "got %v", err)

			var e *errors.Error
			require.True(t, stderrors.As(err, &e))
			assert.Equal(t, tt.lineNo, e.Context["line_number"])
		})
	}
}

func TestParseLog_StatsOnSeparateLines(t *testing.T) {
	output := "\"abc1234 2015-01-05T10:00:00Z alice@x.com\"\n" +
		" 3 files changed\n" +
		" 10 insertions(+)\n" +
		" 4 deletions(-)\n" +
		"\n" +
		"\"def5678 2015-01-06T10:00:00Z bob@x.com\"\n" +
		" 2 files changed, 7 insertions(+)\n" +
		" 1 deletion(-)\n"

	commits, err := ParseLog(strings.NewReader(output), "api")
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, 3, commits[0].FilesChanged)
	assert.Equal(t, 10, commits[0].Insertions)
	assert.Equal(t, 4, commits[0].Deletions)

	assert.Equal(t, 2, commits[1].FilesChanged)
	assert.Equal(t, 7, commits[1].Insertions)
	assert.Equal(t, 1, commits[1].Deletions)
}

// Synthetic logs of N headers with 0-3 stats lines each always parse back
// into N records in header order.
func TestParseLog_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	for iteration := 0; iteration < 50; iteration++ {
		n := rng.Intn(20)

		type want struct {
			hash                    string
			files, inserts, deletes int
		}
		var expected []want
		var b strings.Builder

		for i := 0; i < n; i++ {
			w := want{hash: fmt.Sprintf("%07x", rng.Intn(1<<28))}
			ts := base.Add(time.Duration(rng.Intn(100000)) * time.Minute)
			fmt.Fprintf(&b, "\"%s %s dev%d@example.com\"\n", w.hash, ts.Format(time.RFC3339), i)

			// one line per statistic kind, any subset, in random order
			for _, kind := range rng.Perm(3)[:rng.Intn(4)] {
				switch kind {
				case 0:
					w.files = rng.Intn(50) + 1
					fmt.Fprintf(&b, " %d files changed\n", w.files)
				case 1:
					w.inserts = rng.Intn(500) + 1
					fmt.Fprintf(&b, " %d insertions(+)\n", w.inserts)
				case 2:
					w.deletes = rng.Intn(500) + 1
					fmt.Fprintf(&b, " %d deletions(-)\n", w.deletes)
				}
			}
			if rng.Intn(3) > 0 {
				b.WriteString("\n")
			}
			expected = append(expected, w)
		}

		commits, err := ParseLog(strings.NewReader(b.String()), "repo")
		require.NoError(t, err, "input:\n%s", b.String())
		require.Len(t, commits, n)

		for i, w := range expected {
			assert.Equal(t, w.hash, commits[i].Hash)
			assert.Equal(t, w.files, commits[i].FilesChanged)
			assert.Equal(t, w.inserts, commits[i].Insertions)
			assert.Equal(t, w.deletes, commits[i].Deletions)
			assert.Equal(t, "repo", commits[i].Repository)
		}
	}
}
