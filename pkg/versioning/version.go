// Package versioning reports the openleash build version and decides whether
// a client and a server speak compatible API versions.
package versioning

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/Masterminds/semver/v3"
)

// Current is the release version. Overridden at build time with
// -ldflags "-X github.com/openleash/openleash/pkg/versioning.Current=1.2.3".
var Current = "0.2.0"

// APIVersion is the path prefix of the HTTP API.
const APIVersion = "v1"

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	API       string `json:"api"`
	GoVersion string `json:"go_version"`
	Commit    string `json:"commit,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
}

// Info collects the build information.
func Info() BuildInfo {
	info := BuildInfo{Version: Current, API: APIVersion, GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	return info
}

func (b BuildInfo) String() string {
	s := fmt.Sprintf("openleash %s (api %s, %s)", b.Version, b.API, b.GoVersion)
	if b.Commit != "" {
		commit := b.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		s += " " + commit
		if b.Modified {
			s += "-dirty"
		}
	}
	return s
}

// Parse parses a semantic version, with or without a leading "v".
func Parse(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("versioning: invalid version %q: %w", v, err)
	}
	return parsed, nil
}

// Compatible reports whether a client built against clientVersion can talk
// to a server at serverVersion. Releases sharing a major version are
// compatible; during 0.x the minor version must match as well.
func Compatible(clientVersion, serverVersion string) (bool, error) {
	client, err := Parse(clientVersion)
	if err != nil {
		return false, err
	}
	server, err := Parse(serverVersion)
	if err != nil {
		return false, err
	}

	constraint := fmt.Sprintf("^%d.%d", client.Major(), client.Minor())
	if client.Major() > 0 {
		constraint = fmt.Sprintf("^%d", client.Major())
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("versioning: %w", err)
	}
	// Prereleases only satisfy constraints that name one, so compare the
	// release part.
	release := semver.New(server.Major(), server.Minor(), server.Patch(), "", "")
	return c.Check(release), nil
}
