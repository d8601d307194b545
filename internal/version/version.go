/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of doorkeeper.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/doorkeeper/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the git revision, set via ldflags like Version.
var Commit = "unknown"

// String formats version information for the CLI.
func String() string {
	return fmt.Sprintf("doorkeeper %s (%s, %s %s/%s)", Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
