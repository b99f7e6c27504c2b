//go:build debug

package debug

import "fmt"

const Enabled = true

func Assert(b bool, message string) {
	if !b {
		fail(message)
	}
}

func Assertf(b bool, format string, args ...any) {
	if !b {
		fail(fmt.Sprintf(format, args...))
	}
}

// fail logs the assertion before panicking, so it shows up in the structured
// log even if the panic is recovered.
func fail(message string) {
	Logger("assert").Error("assertion failed", "msg", message)
	panic(message)
}
