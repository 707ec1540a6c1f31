// Package catalog lists the Zig toolchain versions every package is built against.
package catalog

import (
	"fmt"
	"path/filepath"
)

// Version is one supported Zig toolchain version.
type Version string

const (
	Master  Version = "master"
	V0_14_0 Version = "0.14.0"
	V0_13_0 Version = "0.13.0"
	V0_12_0 Version = "0.12.0"
)

// ImageRepository is the repository every builder image is tagged under.
const ImageRepository = "zigcheck/zig-builder"

var versions = []Version{Master, V0_14_0, V0_13_0, V0_12_0}

// All returns the catalog in build order. The returned slice is a copy.
func All() []Version {
	out := make([]Version, len(versions))
	copy(out, versions)
	return out
}

// Parse returns the catalog version matching s.
func Parse(s string) (Version, error) {
	for _, v := range versions {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown zig version %q", s)
}

// Valid reports whether v is part of the catalog.
func (v Version) Valid() bool {
	_, err := Parse(string(v))
	return err == nil
}

// ImageName is the container image used to build packages against v.
func (v Version) ImageName() string {
	return fmt.Sprintf("%s:%s", ImageRepository, v)
}

// BuildContext is the directory under root holding the Dockerfile for v.
func (v Version) BuildContext(root string) string {
	return filepath.Join(root, "zig-"+string(v))
}

// String implements fmt.Stringer.
func (v Version) String() string {
	return string(v)
}

// Missing returns the catalog versions absent from recorded, in catalog order.
// Values in recorded that are not catalog versions are ignored.
func Missing(recorded []string) []Version {
	seen := make(map[string]struct{}, len(recorded))
	for _, r := range recorded {
		seen[r] = struct{}{}
	}

	missing := make([]Version, 0, len(versions))
	for _, v := range versions {
		if _, ok := seen[string(v)]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}
