// Package packager assembles build outputs into the deployable .app archive.
//
// Inputs are staged in build/package-intermediate (manifest, one
// elf/{platform}.elf per platform, optional assets/) and then written as an
// uncompressed USTAR tar named after the first platform's ELF.
package packager
