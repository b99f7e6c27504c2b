//go:build !debug

// Package debug holds the structured loggers used by all packages of the
// driver, and assertions that are only checked in builds with the debug tag.
package debug

// Enabled reports whether assertions are checked.  Wrap assertions that are
// expensive to evaluate in `if debug.Enabled {...}`.
const Enabled = false

func Assert(b bool, message string) {}

func Assertf(b bool, format string, args ...any) {}
