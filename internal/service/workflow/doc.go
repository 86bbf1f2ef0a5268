// Package workflow implements the ttbuild actions on top of the SDK manager,
// the build orchestrator, the packager and the device client.
//
// Every action prints its outcome on the console before returning; the
// returned error only decides the exit status.
package workflow
