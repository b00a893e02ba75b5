package git

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/models"
)

var (
	filesPattern   = regexp.MustCompile(`(\d+) files? changed`)
	insertsPattern = regexp.MustCompile(`(\d+) insertions?\(\+\)`)
	deletesPattern = regexp.MustCompile(`(\d+) deletions?\(-\)`)
)

// ParseLog parses `git log --pretty=format:"%h %aI %aE" --shortstat` output
// into commit records, in the order the headers appear.
//
// Each quoted, non-indented line opens a commit. Indented lines carry the
// shortstat summary of the open commit. A blank line closes the open commit.
// Any other line is an error and parsing stops at it.
func ParseLog(r io.Reader, repository string) ([]models.CommitRecord, error) {
	var commits []models.CommitRecord
	var current *models.CommitRecord

	closeCurrent := func() {
		if current != nil {
			commits = append(commits, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == "":
			closeCurrent()

		case line[0] == ' ' || line[0] == '\t':
			if current == nil {
				return nil, errors.MalformedStatsLine(lineNo, line, "statistics line without a commit header")
			}
			if err := applyStats(current, line, lineNo); err != nil {
				return nil, err
			}

		case isQuoted(line):
			closeCurrent()
			commit, err := parseHeader(line[1:len(line)-1], lineNo, line)
			if err != nil {
				return nil, err
			}
			commit.Repository = repository
			current = &commit

		default:
			return nil, errors.UnrecognizedLine(lineNo, line, "expected a quoted header, an indented stats line or a blank line")
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning git log output: %w", err)
	}

	closeCurrent()
	return commits, nil
}

func isQuoted(line string) bool {
	return len(line) >= 2 && line[0] == '"' && line[len(line)-1] == '"'
}

// parseHeader reads "<hash> <iso8601> <email>"
func parseHeader(payload string, lineNo int, line string) (models.CommitRecord, error) {
	parts := strings.Fields(payload)
	if len(parts) != 3 {
		return models.CommitRecord{}, errors.UnrecognizedLine(lineNo, line,
			fmt.Sprintf("header needs hash, date and author, got %d fields", len(parts)))
	}

	timestamp, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return models.CommitRecord{}, errors.UnrecognizedLine(lineNo, line,
			fmt.Sprintf("invalid author date %q", parts[1]))
	}

	return models.CommitRecord{
		Hash:      parts[0],
		Timestamp: timestamp.UTC(),
		Author:    parts[2],
	}, nil
}

// applyStats sets the counters a shortstat line mentions. Counters it does
// not mention keep their value, so stats split over several lines add up.
func applyStats(c *models.CommitRecord, line string, lineNo int) error {
	files := filesPattern.FindStringSubmatch(line)
	inserts := insertsPattern.FindStringSubmatch(line)
	deletes := deletesPattern.FindStringSubmatch(line)

	if files == nil && inserts == nil && deletes == nil {
		return errors.MalformedStatsLine(lineNo, line, "no file, insertion or deletion count")
	}

	if files != nil {
		c.FilesChanged = atoiMatch(files)
	}
	if inserts != nil {
		c.Insertions = atoiMatch(inserts)
	}
	if deletes != nil {
		c.Deletions = atoiMatch(deletes)
	}
	return nil
}

func atoiMatch(m []string) int {
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
