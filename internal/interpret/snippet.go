package interpret

import (
	"strings"
)

const (
	// Lines of context kept around the line that identified a failure.
	contextBefore = 3
	contextAfter  = 6

	// MaxSummaryBytes bounds every stored error summary.
	MaxSummaryBytes = 2048

	truncationMarker = "\n... (truncated)"

	// NoDetails is stored when a failed build left nothing to quote.
	NoDetails = "No error details available"
)

// snippetOrder is the priority in which signatures are searched for when
// choosing the line a snippet is centered on.
var snippetOrder = []Signature{
	SignatureCommandFailed,
	SignatureZonSyntax,
	SignatureLinker,
	SignatureBuildSummary,
	SignatureRepeatedErrors,
}

// ExtractSnippet returns a short, human-readable failure summary from a log.
// It never returns an empty string.
func ExtractSnippet(log string) string {
	if strings.TrimSpace(log) == "" {
		return NoDetails
	}

	lines := splitLines(log)
	summaryIdx := indexOf(lines, func(l string) bool { return matchesLine(SignatureBuildSummary, l) })

	center := -1
	for _, sig := range snippetOrder {
		if i := indexOf(lines, func(l string) bool { return matchesLine(sig, l) }); i >= 0 {
			center = i
			break
		}
	}
	if center < 0 {
		center = indexOf(lines, func(l string) bool {
			return strings.Contains(strings.ToLower(l), "error")
		})
	}
	if center < 0 {
		return NoDetails
	}

	start := max(center-contextBefore, 0)
	end := min(center+contextAfter+1, len(lines))

	snippet := strings.Join(lines[start:end], "\n")
	if summaryIdx >= 0 && (summaryIdx < start || summaryIdx >= end) {
		snippet += "\n...\n" + lines[summaryIdx]
	}

	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return NoDetails
	}
	return Truncate(snippet, MaxSummaryBytes)
}

// Truncate caps s at limit bytes, marking the cut. A Build Summary line in the
// dropped tail is kept.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	keep := max(limit-len(truncationMarker), 0)
	tail := ""
	if loc := buildSummaryPattern.FindStringIndex(s[keep:]); loc != nil {
		line := s[keep+loc[0]:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		if len(line) < limit/4 {
			tail = "\n" + line
			keep = max(keep-len(tail), 0)
		}
	}
	return strings.ToValidUTF8(s[:keep], "") + truncationMarker + tail
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

func indexOf(lines []string, match func(string) bool) int {
	for i, l := range lines {
		if match(l) {
			return i
		}
	}
	return -1
}
