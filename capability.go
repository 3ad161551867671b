package rdpbridge

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

type Version struct {
	Major, Minor, Patch int
	// Qualifier is whatever followed the patch number, e.g. "-dev".
	Qualifier string
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Patch, v.Qualifier)
}

// Less compares the numeric part only.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// MinimumVersion is the oldest engine release this package drives.
var MinimumVersion = Version{Major: 2, Minor: 5, Patch: 1}

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(.*)$`)

func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrMalformedVersion, s)
	}
	var nums [3]int
	for i := range nums {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %w", ErrMalformedVersion, s, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Qualifier: m[4]}, nil
}

// Capabilities is the result of the startup probe. It does not change for
// the lifetime of the process.
type Capabilities struct {
	Version Version
	H264    bool
}

// Probe reads the engine version, rejects anything below MinimumVersion and
// checks for H.264 support. Any error is fatal to startup; there is no
// degraded mode.
func Probe(ctx context.Context, p VersionProber) (Capabilities, error) {
	raw, err := p.Version(ctx)
	if err != nil {
		return Capabilities{}, fmt.Errorf("query engine version: %w", err)
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return Capabilities{}, err
	}
	if v.Less(MinimumVersion) {
		return Capabilities{}, fmt.Errorf("%w: %s < %s", ErrUnsupportedVersion, v, MinimumVersion)
	}
	h264, err := p.HasH264(ctx)
	if err != nil {
		return Capabilities{}, fmt.Errorf("query h264 support: %w", err)
	}
	return Capabilities{Version: v, H264: h264}, nil
}
