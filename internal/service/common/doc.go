// Package common holds helpers shared by several services.
//
// It provides the CDN downloader (timeouts, scheme checks, atomic writes) and
// the project lock that keeps two tool instances from mutating the same
// project directory.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
