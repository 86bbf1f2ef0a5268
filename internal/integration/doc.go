// Package integration holds end-to-end tests that run ttbuild actions against
// a fake CDN, a fake build tool script and a fake device.
package integration
