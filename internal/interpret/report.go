// Package interpret turns the raw output of a build container into a definitive
// build outcome. Everything here is pure: no I/O, no locking.
package interpret

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnparseable is returned when no build status can be recovered from a result file.
var ErrUnparseable = errors.New("result file has no recognizable build_status")

// Report is the JSON document a build container writes to its result file.
type Report struct {
	BuildID     string  `json:"build_id"`
	PackageName string  `json:"package_name"`
	RepoURL     string  `json:"repo_url"`
	ZigVersion  string  `json:"zig_version"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time"`
	BuildStatus string  `json:"build_status"`
	TestStatus  *string `json:"test_status"`
	ErrorLog    string  `json:"error_log"`
	BuildLog    string  `json:"build_log"`
}

// Parse decodes a result file. When the payload is not valid JSON (a build script
// that crashed mid-write, for example) the known fields are recovered by direct
// substring search instead. Either way a file without a build_status yields
// ErrUnparseable.
func Parse(raw []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(raw, &r); err == nil {
		if strings.TrimSpace(r.BuildStatus) == "" {
			return Report{}, ErrUnparseable
		}
		return r, nil
	}

	s := string(raw)
	status, ok, _ := lookupField(s, "build_status")
	if !ok || status == "" {
		return Report{}, ErrUnparseable
	}

	r = Report{BuildStatus: status}
	r.BuildID, _, _ = lookupField(s, "build_id")
	r.PackageName, _, _ = lookupField(s, "package_name")
	r.RepoURL, _, _ = lookupField(s, "repo_url")
	r.ZigVersion, _, _ = lookupField(s, "zig_version")
	r.StartTime, _, _ = lookupField(s, "start_time")
	r.ErrorLog, _, _ = lookupField(s, "error_log")
	r.BuildLog, _, _ = lookupField(s, "build_log")

	if v, ok, isNull := lookupField(s, "test_status"); ok && !isNull {
		r.TestStatus = &v
	}
	if v, ok, isNull := lookupField(s, "end_time"); ok && !isNull {
		r.EndTime = &v
	}
	return r, nil
}

// lookupField finds `"name": <value>` in s and returns the string value.
// An unterminated string value runs to the end of s.
func lookupField(s, name string) (value string, found bool, isNull bool) {
	key := `"` + name + `"`
	idx := strings.Index(s, key)
	if idx < 0 {
		return "", false, false
	}

	rest := strings.TrimLeft(s[idx+len(key):], " \t\r\n")
	if !strings.HasPrefix(rest, ":") {
		return "", false, false
	}
	rest = strings.TrimLeft(rest[1:], " \t\r\n")

	if strings.HasPrefix(rest, "null") {
		return "", true, true
	}
	if !strings.HasPrefix(rest, `"`) {
		return "", false, false
	}
	rest = rest[1:]

	end := -1
	for i := 0; i < len(rest); i++ {
		if rest[i] == '\\' {
			i++
			continue
		}
		if rest[i] == '"' {
			end = i
			break
		}
	}

	encoded := rest
	if end >= 0 {
		encoded = rest[:end]
	}
	return unescape(encoded), true, false
}

func unescape(encoded string) string {
	var decoded string
	if err := json.Unmarshal([]byte(`"`+encoded+`"`), &decoded); err == nil {
		return decoded
	}
	// Partial files can end mid-escape.
	return strings.NewReplacer(
		`\n`, "\n",
		`\t`, "\t",
		`\r`, "\r",
		`\"`, `"`,
		`\/`, "/",
		`\\`, `\`,
	).Replace(encoded)
}
