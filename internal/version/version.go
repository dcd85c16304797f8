// SPDX-License-Identifier: MIT

// Package version exposes build identity populated via ldflags.
package version

var (
	// Version is the current application version.
	Version = "v1.2.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
