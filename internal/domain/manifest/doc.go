// Package manifest loads the app descriptor (manifest.properties).
//
// The file is INI formatted with [manifest], [target] and [app] sections.
// A Manifest is validated once on load and is read-only afterwards.
package manifest
