// Package tool models the build tool metadata published on the CDN and the
// compatibility rules applied to the locally running tool version.
package tool
