// Package version reports the build of the relay client. Both values are
// overridden at link time:
//
//	-ldflags "-X github.com/AvaProtocol/userop-relay/version.semver=0.2.0 -X github.com/AvaProtocol/userop-relay/version.revision=$(git rev-parse --short HEAD)"
package version

import "fmt"

var (
	semver   = "0.1.0"
	revision = "unknown"
)

func Get() string {
	return semver
}

func Commit() string {
	return revision
}

// UserAgent is sent to the relay with every request.
func UserAgent() string {
	return fmt.Sprintf("userop-relay/%s (%s)", semver, revision)
}
