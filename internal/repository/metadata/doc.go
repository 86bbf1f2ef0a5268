// Package metadata implements the on-disk cache of the CDN tool metadata.
//
// The FileRepository keeps the raw tool.json next to the SDK cache and decides
// freshness from the file's modification time, so the cache survives restarts
// without any extra bookkeeping.
package metadata
