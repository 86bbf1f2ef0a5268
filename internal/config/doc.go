// Package config defines the run configuration of ttbuild and helpers to
// load, validate and save it in YAML format.
//
// A Config is assembled once per invocation (file, then environment, then
// command-line flags) and passed by pointer to every component, which treat
// it as read-only.
package config
