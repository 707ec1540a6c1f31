package interpret

import (
	"regexp"
	"strconv"
	"strings"
)

// Signature identifies a class of definitive build failure found in a log.
type Signature string

const (
	SignatureNone           Signature = ""
	SignatureCommandFailed  Signature = "command_failed"
	SignatureZonSyntax      Signature = "zon_syntax"
	SignatureLinker         Signature = "linker"
	SignatureBuildSummary   Signature = "build_summary"
	SignatureRepeatedErrors Signature = "repeated_errors"
)

const errorMarker = "error:"

var (
	commandFailureMarkers = []string{
		"error: the following command failed",
		"error: the following build command failed",
		"the following command exited with error code",
		"the following command terminated unexpectedly",
	}

	linkerMarkers = []string{
		"error: ld.lld:",
		"ld.lld: error:",
		"error: lld-link:",
		"undefined symbol:",
		"linker command failed",
	}

	zonSyntaxPattern    = regexp.MustCompile(`build\.zig\.zon:\d+:\d+: error:`)
	buildSummaryPattern = regexp.MustCompile(`Build Summary: (\d+)/(\d+) steps succeeded([^\n]*)`)
	failedStepsPattern  = regexp.MustCompile(`(\d+) failed`)
)

// DetectFailure scans a build log for signatures that prove the build failed,
// regardless of what the build script reported. Signatures are checked in a
// fixed priority order and the first match is returned.
func DetectFailure(log string) (Signature, bool) {
	if log == "" {
		return SignatureNone, false
	}
	if containsAny(log, commandFailureMarkers) {
		return SignatureCommandFailed, true
	}
	if zonSyntaxPattern.MatchString(log) {
		return SignatureZonSyntax, true
	}
	if containsAny(log, linkerMarkers) {
		return SignatureLinker, true
	}
	if summaryReportsFailure(log) {
		return SignatureBuildSummary, true
	}
	if strings.Count(log, errorMarker) >= 2 {
		return SignatureRepeatedErrors, true
	}
	return SignatureNone, false
}

// summaryReportsFailure reports whether any "Build Summary" line has failed
// steps or no succeeded steps at all.
func summaryReportsFailure(log string) bool {
	for _, m := range buildSummaryPattern.FindAllStringSubmatch(log, -1) {
		succeeded, err := strconv.Atoi(m[1])
		if err == nil && succeeded == 0 {
			return true
		}
		if f := failedStepsPattern.FindStringSubmatch(m[3]); f != nil {
			if n, err := strconv.Atoi(f[1]); err == nil && n > 0 {
				return true
			}
		}
	}
	return false
}

// matchesLine reports whether a single log line carries sig.
func matchesLine(sig Signature, line string) bool {
	switch sig {
	case SignatureCommandFailed:
		return containsAny(line, commandFailureMarkers)
	case SignatureZonSyntax:
		return zonSyntaxPattern.MatchString(line)
	case SignatureLinker:
		return containsAny(line, linkerMarkers)
	case SignatureBuildSummary:
		return buildSummaryPattern.MatchString(line)
	case SignatureRepeatedErrors:
		return strings.Contains(line, errorMarker)
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
