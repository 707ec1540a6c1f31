package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobContext identifies one build attempt of one package against one version.
// It lives only for the duration of ExecuteOneVersion.
type JobContext struct {
	ID                  string
	ContainerName       string
	HostResultPath      string
	ContainerResultPath string
}

var versionSanitizer = strings.NewReplacer(".", "_", "/", "_", ":", "_", " ", "_")

// newJobContext derives a unique job identity. The uuid suffix keeps two
// attempts started in the same nanosecond apart.
func newJobContext(packageID int64, version, hostDir, containerDir string, now time.Time) JobContext {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	id := fmt.Sprintf("%d_%s_%d_%s", packageID, versionSanitizer.Replace(version), now.UnixNano(), suffix)
	file := id + ".json"

	return JobContext{
		ID:                  id,
		ContainerName:       "zigcheck-" + id,
		HostResultPath:      filepath.Join(hostDir, file),
		ContainerResultPath: filepath.ToSlash(filepath.Join(containerDir, file)),
	}
}
