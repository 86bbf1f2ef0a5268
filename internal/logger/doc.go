// Package logger wraps zap for the whole tool:
//   - a global sugared logger writing to stderr with a console encoder,
//   - context helpers (ToContext, FromContext, WithName, WithKV),
//   - level parsing and switching for --verbose,
//   - leveled shortcuts (Infof, WarnKV, ErrorKV, ...).
//
// Services receive a context and log through it, so every line carries the
// component name and any key-values attached by the caller.
package logger
