package main

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/rohankatakam/dashi/internal/errors"
)

// renderError formats a command failure for stderr. Structured errors get a
// second line naming their code (or type) and severity; verbose adds the
// full context and stack.
func renderError(err error, verbose bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %v\n", err)

	var e *errors.Error
	if !stderrors.As(err, &e) {
		return sb.String()
	}

	label := string(errors.GetCode(err))
	if label == "" {
		label = errors.GetType(err).String()
	}
	fmt.Fprintf(&sb, "  [%s] severity %s\n", label, errors.GetSeverity(err))

	if verbose {
		sb.WriteString(e.DetailedString())
	}
	return sb.String()
}
