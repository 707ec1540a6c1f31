package interpret

import (
	"strings"

	"zigcheck/internal/store"
)

// Outcome is the definitive classification of one build attempt.
type Outcome struct {
	BuildStatus  store.BuildStatus
	TestStatus   store.TestStatus
	ErrorSummary string
}

// Interpret parses a result file and classifies it. stdout and stderr are the
// container's captured streams, used for the summary when the build log is empty.
func Interpret(raw []byte, stdout, stderr string) (Outcome, error) {
	report, err := Parse(raw)
	if err != nil {
		return Outcome{}, err
	}
	return Classify(report, stdout, stderr), nil
}

// Classify applies the failure heuristics to a parsed report.
// The reported build status is only a starting point: a log that proves the
// build failed overrides a reported success.
func Classify(r Report, stdout, stderr string) Outcome {
	out := Outcome{
		BuildStatus:  normalizeBuildStatus(r.BuildStatus),
		TestStatus:   normalizeTestStatus(r.TestStatus),
		ErrorSummary: strings.TrimSpace(r.ErrorLog),
	}

	if _, failed := DetectFailure(r.BuildLog); failed {
		out.BuildStatus = store.BuildStatusFailed
		if out.TestStatus != store.TestStatusNone {
			out.TestStatus = store.TestStatusFailed
		}
	}

	if out.BuildStatus == store.BuildStatusFailed && out.ErrorSummary == "" {
		out.ErrorSummary = ExtractSnippet(firstNonBlank(r.BuildLog, stdout, stderr))
	}

	out.ErrorSummary = Truncate(out.ErrorSummary, MaxSummaryBytes)
	return out
}

// SummarizeCrash builds the stored summary for a container that exited non-zero
// or could not be launched: a snippet from stdout, then stderr, then fallback
// followed by the last lines of output.
func SummarizeCrash(stdout, stderr, fallback string) string {
	for _, source := range []string{stdout, stderr} {
		if snippet := ExtractSnippet(source); snippet != NoDetails {
			return snippet
		}
	}

	msg := strings.TrimSpace(fallback)
	if msg == "" {
		msg = NoDetails
	}
	if tail := strings.TrimSpace(tailLines(firstNonBlank(stdout, stderr), contextAfter)); tail != "" {
		msg += "\n" + tail
	}
	return Truncate(msg, MaxSummaryBytes)
}

func normalizeBuildStatus(s string) store.BuildStatus {
	if strings.EqualFold(strings.TrimSpace(s), string(store.BuildStatusSuccess)) {
		return store.BuildStatusSuccess
	}
	return store.BuildStatusFailed
}

func normalizeTestStatus(s *string) store.TestStatus {
	if s == nil {
		return store.TestStatusNone
	}
	switch store.TestStatus(strings.ToLower(strings.TrimSpace(*s))) {
	case store.TestStatusSuccess:
		return store.TestStatusSuccess
	case store.TestStatusFailed:
		return store.TestStatusFailed
	case store.TestStatusNoTests:
		return store.TestStatusNoTests
	}
	return store.TestStatusNone
}

func firstNonBlank(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

func tailLines(s string, n int) string {
	lines := splitLines(strings.TrimRight(s, "\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
