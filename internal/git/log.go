package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/sirupsen/logrus"
)

// LogFormat is the pretty format ParseLog expects
const LogFormat = `--pretty=format:"%h %aI %aE"`

// LogReader runs git log against explicit working directories. It never
// changes the process working directory, so concurrent reads are safe.
type LogReader struct {
	binary string
	logger *logrus.Logger
}

// NewLogReader creates a reader that invokes the git binary found on PATH
func NewLogReader(logger *logrus.Logger) *LogReader {
	return &LogReader{binary: "git", logger: logger}
}

// Args returns the git log arguments for the given time range. A zero
// before means no upper bound.
func Args(after, before time.Time) []string {
	args := []string{
		"log",
		LogFormat,
		"--shortstat",
		"--after=" + after.UTC().Format(time.RFC3339),
	}
	if !before.IsZero() {
		args = append(args, "--before="+before.UTC().Format(time.RFC3339))
	}
	return args
}

// ReadCommits runs git log in dir and parses its output. A non-zero exit
// status is a hard failure.
func (r *LogReader) ReadCommits(ctx context.Context, dir, repository string, after, before time.Time) ([]models.CommitRecord, error) {
	args := Args(after, before)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"dir":        dir,
			"repository": repository,
			"args":       args,
		}).Debug("Executing git log")
	}

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.ExternalErrorf(err, "git log failed in %s (stderr: %s)", dir, bytes.TrimSpace(stderr.Bytes())).
			WithContext("dir", dir)
	}

	commits, err := ParseLog(bytes.NewReader(output), repository)
	if err != nil {
		return nil, fmt.Errorf("parse git log for %s: %w", repository, err)
	}
	return commits, nil
}
