// Package version exposes build metadata for ttbuild.
//
// Version doubles as the local tool version that the CDN's compatibility
// pattern is matched against, so release builds must inject it via ldflags.
package version
