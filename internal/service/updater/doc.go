// Package updater replaces the running ttbuild executable with the build
// published in the tool metadata (the updateself action).
package updater
