// Package device talks to the HTTP control API of a running Tactility device.
package device
