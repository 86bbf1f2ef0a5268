// Package sdk resolves, downloads and caches Tactility SDK bundles.
//
// SDKs live under {cache}/{version}-{platform}/TactilitySDK (or under the
// local SDK base path in local mode). Presence of that directory is the only
// cache state: nothing is kept in memory between calls, so an interrupted run
// recovers by simply probing again. The Manager also owns the time-bounded
// cache of the CDN tool metadata and the per-platform sdkconfig files.
package sdk
