// Package build drives the external ESP-IDF build tool for each target
// platform.
//
// A platform's state is derived from disk on every call: without an
// .app.elf artifact under build/cmake-build-{platform} the next run is a
// first build ("build"), otherwise an incremental one ("elf"). The first
// build of the upstream toolchain exits non-zero even when it succeeds, so
// its result is judged by a configurable SuccessOracle.
package build
